package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"time"

	"thrivesight/pkg/common"
	"thrivesight/pkg/protocol"
)

func main() {
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP API base URL")
	tcpAddr := flag.String("tcp", "localhost:9090", "TCP server address")
	nReq := flag.Int("n", 5000, "Number of predictions per run")
	flag.Parse()

	profiles := randomProfiles(*nReq)

	fmt.Printf("ThriveSight Prediction Benchmark (N=%d)\n", *nReq)
	fmt.Printf("  HTTP=%s  TCP=%s\n", *httpAddr, *tcpAddr)
	fmt.Println("---------------------------------------------------")

	fmt.Println(">> Starting HTTP Benchmark (JSON over HTTP 1.1)...")
	httpDuration := runHTTPBenchmark(*httpAddr, profiles)
	fmt.Printf("   HTTP Time: %v | QPS: %.0f\n\n", httpDuration, float64(*nReq)/httpDuration.Seconds())

	fmt.Println(">> Starting TCP Benchmark (Binary Protocol)...")
	tcpDuration := runTCPBenchmark(*tcpAddr, profiles)
	fmt.Printf("   TCP  Time: %v | QPS: %.0f\n", tcpDuration, float64(*nReq)/tcpDuration.Seconds())

	fmt.Println("---------------------------------------------------")
	fmt.Printf("TCP/HTTP speed ratio: %.2fx\n", httpDuration.Seconds()/tcpDuration.Seconds())
}

// randomProfiles draws distinct profiles so the prediction cache does not
// answer every request.
func randomProfiles(n int) []common.Profile {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	out := make([]common.Profile, n)
	for i := range out {
		out[i] = common.Profile{
			Age:                   rng.Float64() * 15,
			Relationships:         float64(rng.Intn(40)),
			AgeLastMilestoneYear:  rng.Float64() * 10,
			Milestones:            float64(rng.Intn(8)),
			IsTop500:              float64(rng.Intn(2)),
			HasRoundABCD:          float64(rng.Intn(2)),
			AgeFirstMilestoneYear: rng.Float64() * 5,
			FundingRounds:         float64(rng.Intn(8)),
			AvgParticipants:       rng.Float64() * 6,
			IsOtherState:          float64(rng.Intn(2)),
		}
	}
	return out
}

func runHTTPBenchmark(httpAddr string, profiles []common.Profile) time.Duration {
	start := time.Now()
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
		},
	}

	for _, p := range profiles {
		jsonData, _ := json.Marshal(p)

		resp, err := client.Post(httpAddr+"/api/predict", "application/json", bytes.NewReader(jsonData))
		if err != nil {
			log.Fatalf("HTTP Req failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			log.Fatalf("HTTP predict returned %d: %s", resp.StatusCode, body)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return time.Since(start)
}

func runTCPBenchmark(addr string, profiles []common.Profile) time.Duration {
	start := time.Now()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("TCP Connect failed: %v", err)
	}
	defer conn.Close()

	for _, p := range profiles {
		err := protocol.Encode(conn, protocol.OpPredict, nil, common.EncodeProfile(p))
		if err != nil {
			log.Fatalf("TCP Write failed: %v", err)
		}

		resp, err := protocol.Decode(conn)
		if err != nil {
			log.Fatalf("TCP Read failed: %v", err)
		}
		if resp.Op == protocol.RespErr {
			log.Fatalf("TCP predict failed: %s", resp.Value)
		}
	}

	return time.Since(start)
}
