package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/grip-leaderboard/internal/codec"
	"github.com/grip-leaderboard/internal/config"
	"github.com/grip-leaderboard/internal/domain"
	"github.com/grip-leaderboard/internal/submission"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults when empty)")
	dataset := flag.String("dataset", "mens", "Dataset: mens or womens")
	right := flag.Float64("right", 0, "Right hand grip strength (lbs)")
	left := flag.Float64("left", 0, "Left hand grip strength (lbs)")
	sleep := flag.Int64("sleep", 0, "Hours of sleep")
	xHandle := flag.String("x", "", "X handle")
	github := flag.String("github", "", "GitHub username")
	from := flag.String("from", "", "Key name or address to submit from")
	asJSON := flag.Bool("json", false, "Print the full payload as JSON")
	decode := flag.String("decode", "", "Decode a hex report value instead of encoding")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if *decode != "" {
		decodeValue(*decode)
		return
	}

	builder, err := submission.NewBuilder(&cfg.Submission)
	if err != nil {
		log.Fatalf("Invalid submission config: %v", err)
	}

	form := domain.Form{
		Dataset:        domain.Dataset(*dataset),
		RightHand:      *right,
		LeftHand:       *left,
		HoursOfSleep:   *sleep,
		XHandle:        *xHandle,
		GithubUsername: *github,
	}

	payload, err := builder.Build(form, *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			log.Fatalf("Failed to write payload: %v", err)
		}
		return
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Grip Strength Submission")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Dataset:          %s\n", form.Dataset)
	fmt.Printf("  Right / Left:     %g / %g lbs\n", form.RightHand, form.LeftHand)
	fmt.Printf("  Hours of sleep:   %d\n", form.HoursOfSleep)
	fmt.Printf("  Chain:            %s\n", cfg.Submission.ChainID)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Value:")
	fmt.Println(payload.Value)
	fmt.Println()
	fmt.Println("Command:")
	fmt.Println(payload.CLICommand)
}

func decodeValue(value string) {
	decoder := codec.NewDecoder(time.Local)
	entry, err := decoder.DecodeReport(domain.RawReport{
		Value:     value,
		Timestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		Reporter:  "local",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("  Dataset:          %s\n", entry.DatasetName())
	fmt.Printf("  Right hand:       %g lbs\n", entry.RightHand)
	fmt.Printf("  Left hand:        %g lbs\n", entry.LeftHand)
	fmt.Printf("  Strength:         %g lbs\n", entry.Strength())
	fmt.Printf("  Hours of sleep:   %d\n", entry.HoursOfSleep)
	fmt.Printf("  X handle:         %s\n", entry.XHandle)
	fmt.Printf("  GitHub:           %s\n", entry.GithubUsername)
}
