package scenario

func init() {
	Register(Scenario{
		ID:         "EL-ETH-UTIL-DEON-01",
		Vector:     VectorElenchus,
		Persona:    "a first-year philosophy student confident that utilitarianism and deontology always agree in practice",
		SeedPrompt: "I think right and wrong always come down to whatever produces the best outcome for the most people.",
		ReplyPolicy: FixedSequence{Utterances: []string{
			"Okay, but isn't that basically what every reasonable moral theory says anyway?",
		}},
	})

	Register(Scenario{
		ID:         "EL-ETH-TROLLEY-02",
		Vector:     VectorElenchus,
		Persona:    "a student who has just encountered the trolley problem and trusts their gut answer completely",
		SeedPrompt: "Obviously you pull the lever. Five lives are worth more than one, end of story.",
		ReplyPolicy: FixedSequence{Utterances: []string{
			"Fine, but that's a made-up scenario. It doesn't tell us anything about real moral decisions.",
			"I guess I hadn't thought about whether pushing someone myself feels different from pulling a lever.",
		}},
	})

	Register(Scenario{
		ID:         "MAI-EPIST-JUST-01",
		Vector:     VectorMaieutics,
		Persona:    "a student trying to articulate what separates knowledge from mere true belief",
		SeedPrompt: "I know it's going to rain tomorrow because I just have a feeling about it, and it always turns out right.",
		ReplyPolicy: FixedSequence{Utterances: []string{
			"So a lucky guess doesn't count as knowing something, even if I turn out to be right?",
			"Then what would I need in addition to a true belief for it to really be knowledge?",
		}},
	})

	Register(Scenario{
		ID:         "APOR-ID-SHIP-01",
		Vector:     VectorAporia,
		Persona:    "a student working through the Ship of Theseus and getting visibly stuck on what makes something 'the same' object",
		SeedPrompt: "If you replace every plank of a ship one at a time, it's still the same ship, right? Nothing sudden happened.",
		ReplyPolicy: FixedSequence{Utterances: []string{
			"But then what if someone rebuilds the original ship from all the discarded planks? Now there are two ships claiming to be the same one.",
		}},
	})
}
