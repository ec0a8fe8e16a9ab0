package main

import (
	"encoding/json"
	"fmt"
	"os"

	"yashubustudio/corpustune/corpustune"
)

func readReport(path string) (corpustune.StudyReport, error) {
	var report corpustune.StudyReport
	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read study report: %w", err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode study report: %w", err)
	}
	return report, nil
}

func printSummary(report corpustune.StudyReport) {
	fmt.Println()
	fmt.Printf("==== Study %s ====\n", report.ID)
	for _, t := range report.Trials {
		marker := " "
		if report.BestTrial != nil && *report.BestTrial == t.Number {
			marker = "*"
		}
		fmt.Printf("%s trial %d: %s\n", marker, t.Number, formatTrial(t))
	}
}

func formatTrial(t corpustune.TrialRecord) string {
	params := fmt.Sprintf("epochs=%d batch_size=%d learning_rate=%.2e",
		t.Params.Epochs, t.Params.BatchSize, t.Params.LearningRate)
	if t.State != corpustune.TrialComplete {
		return fmt.Sprintf("%s failed (%s)", params, t.Error)
	}
	return fmt.Sprintf("%s loss=%.4f", params, t.EvalLoss)
}
