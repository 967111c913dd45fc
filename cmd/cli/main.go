package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"thrivesight/pkg/client"
	"thrivesight/pkg/common"
)

const Prompt = "thrive> "

func main() {
	serverAddr := flag.String("addr", "localhost:9090", "ThriveSight TCP server address")
	flag.Parse()

	fmt.Printf("ThriveSight CLI (Target: %s)\n", *serverAddr)
	fmt.Println("Connecting...")

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: Ensure the server is running (e.g. go run ./cmd/server).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "predict":
			handlePredict(cli, parts)
		case "model":
			handleModel(cli)
		case "recent":
			handleRecent(cli, parts)
		case "sample":
			handleSample(cli, parts)
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

// parseProfile 按特征顺序解析十个数值
func parseProfile(args []string) (common.Profile, error) {
	if len(args) != common.NumFeatures {
		return common.Profile{}, fmt.Errorf("expected %d values (%s)", common.NumFeatures, strings.Join(common.FeatureNames, " "))
	}
	vec := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return common.Profile{}, fmt.Errorf("%s: %q is not a number", common.FeatureNames[i], a)
		}
		vec[i] = v
	}
	return common.ProfileFromVector(vec)
}

func handlePredict(cli *client.Client, parts []string) {
	p, err := parseProfile(parts[1:])
	if err != nil {
		fmt.Printf("Usage: predict <%d numbers>\nError: %v\n", common.NumFeatures, err)
		return
	}

	start := time.Now()
	pred, err := cli.Predict(p)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%s (success votes %.0f%%, model v%d, cached=%v) (%v)\n",
		strings.ToUpper(pred.Outcome), pred.SuccessShare*100, pred.ModelVersion, pred.Cached, duration)
}

func handleModel(cli *client.Client) {
	info, err := cli.Model()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("version %d, %d trees, max_depth %d, avg depth %.1f, avg leaves %.1f\n",
		info.Version, info.Trees, info.MaxDepth, info.AvgDepth, info.AvgLeaves)
	m := info.Metrics
	fmt.Printf("holdout: accuracy %.3f precision %.3f recall %.3f f1 %.3f (n=%d)\n",
		m.Accuracy, m.Precision, m.Recall, m.F1, m.Support)
}

func handleRecent(cli *client.Client, parts []string) {
	limit := 10
	if len(parts) > 1 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 {
			fmt.Println("Usage: recent [limit]")
			return
		}
		limit = n
	}

	preds, err := cli.Recent(limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(preds) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, p := range preds {
		fmt.Printf("%d  %-8s %.2f  %s\n", p.ID, p.Outcome, p.SuccessShare, p.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("(%d predictions)\n", len(preds))
}

func handleSample(cli *client.Client, parts []string) {
	if len(parts) != common.NumFeatures+2 {
		fmt.Printf("Usage: sample <%d numbers> <label 0|1>\n", common.NumFeatures)
		return
	}
	p, err := parseProfile(parts[1 : common.NumFeatures+1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	label, err := strconv.Atoi(parts[common.NumFeatures+1])
	if err != nil {
		fmt.Println("Error: label must be 0 or 1")
		return
	}

	start := time.Now()
	if err := cli.AddSample(common.Sample{Profile: p, Label: label}); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK (%v)\n", time.Since(start))
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Printf("  predict <%s>\n", strings.Join(common.FeatureNames, " "))
	fmt.Println("  model                  show the active model")
	fmt.Println("  recent [limit]         list recent predictions")
	fmt.Println("  sample <features> <0|1> journal a labeled startup for retraining")
	fmt.Println("  exit")
}
