package main

import "time"

// Globals are the flags shared by every subcommand: how to load
// infrastructure configuration, how to log, and whether to run against
// in-memory stores instead of AWS.
type Globals struct {
	ConfigPath string        `help:"YAML infrastructure config file path." short:"c" name:"config" env:"TUTORBENCH_CONFIG_PATH"`
	Profile    string        `help:"Named deployment profile to merge over the base config." name:"profile" env:"TUTORBENCH_PROFILE"`
	LogLevel   string        `help:"Log level." default:"info" enum:"debug,info,warn,error" name:"log-level" env:"TUTORBENCH_LOG_LEVEL"`
	LogFormat  string        `help:"Log format." default:"text" enum:"text,json" name:"log-format" env:"TUTORBENCH_LOG_FORMAT"`
	Local      bool          `help:"Use in-memory kv/object stores and queues instead of DynamoDB/S3/SQS." name:"local"`
	Timeout    time.Duration `help:"Overall command timeout." default:"10m"`
}

// CLI is tutorbench's command-line interface.
var CLI struct {
	Globals

	Plan        PlanCmd        `cmd:"" help:"Materialize one week's manifest and fan out its dialogue jobs."`
	RunDialogue RunDialogueCmd `cmd:"" name:"run-dialogue" help:"Drive a single ad hoc dialogue directly through the model gateway."`
	RunJudge    RunJudgeCmd    `cmd:"" name:"run-judge" help:"Score a single recorded turn."`
	RunCurator  RunCuratorCmd  `cmd:"" name:"run-curator" help:"Fold a single judged run into its weekly rollup."`
	ServeWorker ServeWorkerCmd `cmd:"" name:"serve-worker" help:"Run the Runner, Judge, and Curator dispatch loops until interrupted."`
	Queue       QueueCmd       `cmd:"" help:"Report pending-message depth for the pipeline's queues."`
	Version     VersionCmd     `cmd:"" help:"Print version information."`
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (v *VersionCmd) Run(*Globals) error {
	printVersion()
	return nil
}
