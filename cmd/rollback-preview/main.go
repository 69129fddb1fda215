// rollback-preview prints the rollback-mode rendition of a resolved pipeline
// document. Give it the original yaml plus the executed stage outcomes and it
// writes the filtered, reversed document that a rollback run would execute.
//
//	rollback-preview pipeline.yaml -e s1=SUCCEEDED -e s2=SUCCEEDED
//	rollback-preview pipeline.yaml --mode post-execution -e s1=SUCCEEDED -e loop=RUNNING:STRATEGY
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-pipeline"
	"github.com/goliatone/go-pipeline/rollback"
)

type CLI struct {
	Pipeline string `arg:"" help:"Path to the resolved pipeline yaml." type:"existingfile"`

	Mode          string   `help:"Rollback mode." enum:"pipeline,post-execution" default:"pipeline"`
	Executed      []string `short:"e" help:"Executed stage record: identifier=STATUS or identifier=STATUS:CATEGORY."`
	ReservedStage string   `help:"Stage identifier excluded from pipeline rollback." default:""`
	Out           string   `help:"Write the transformed document here instead of stdout." type:"path"`
}

func (c *CLI) Run() error {
	doc, err := os.ReadFile(c.Pipeline)
	if err != nil {
		return fmt.Errorf("read pipeline document: %w", err)
	}

	records, err := parseRecords(c.Executed)
	if err != nil {
		return err
	}

	mode := pipeline.ModePipelineRollback
	if c.Mode == "post-execution" {
		mode = pipeline.ModePostExecutionRollback
	}

	out, err := rollback.TransformDocument(doc, mode, records, c.ReservedStage)
	if err != nil {
		return err
	}

	if c.Out != "" {
		return os.WriteFile(c.Out, out, 0o644)
	}
	_, err = os.Stdout.Write(out)
	return err
}

// parseRecords turns identifier=STATUS[:CATEGORY] flags into stage records.
// Category defaults to STAGE.
func parseRecords(specs []string) ([]rollback.StageRecord, error) {
	records := make([]rollback.StageRecord, 0, len(specs))
	for _, spec := range specs {
		identifier, outcome, ok := strings.Cut(spec, "=")
		if !ok || identifier == "" || outcome == "" {
			return nil, fmt.Errorf("invalid executed stage %q, want identifier=STATUS", spec)
		}
		status, category, _ := strings.Cut(outcome, ":")
		record := rollback.StageRecord{
			Identifier: identifier,
			Status:     pipeline.Status(strings.ToUpper(status)),
			Category:   pipeline.CategoryStage,
		}
		if category != "" {
			record.Category = pipeline.StepCategory(strings.ToUpper(category))
		}
		records = append(records, record)
	}
	return records, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("rollback-preview"),
		kong.Description("Preview the rollback-mode transformation of a pipeline document."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
