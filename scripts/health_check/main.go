package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/instruments"
	"execution-core/pkg/venue/rest"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	fmt.Println("Execution core health check")
	fmt.Println("===========================")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load()
	report := HealthReport{Overall: "HEALTHY"}
	if err != nil {
		report.Services = append(report.Services, HealthStatus{
			Service:   "Configuration",
			Status:    "UNHEALTHY",
			Message:   fmt.Sprintf("Failed to load: %v", err),
			Timestamp: time.Now(),
		})
	} else {
		report.Services = append(report.Services,
			checkConfig(cfg),
			checkDatabase(ctx, cfg),
			checkInstruments(cfg),
			checkVenue(ctx, cfg),
			checkAPIServer(ctx, cfg),
		)
	}

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println("Results:")
	fmt.Println("--------")
	for _, svc := range report.Services {
		statusIcon := "✓"
		if svc.Status == "UNHEALTHY" {
			statusIcon = "✗"
		} else if svc.Status == "DEGRADED" {
			statusIcon = "⚠"
		}
		fmt.Printf("%s %-20s %s %s\n", statusIcon, svc.Service, svc.Status, svc.Message)
	}

	fmt.Println()
	fmt.Printf("Overall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}

	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func checkConfig(cfg *config.Config) HealthStatus {
	status := HealthStatus{Service: "Configuration", Status: "HEALTHY", Timestamp: time.Now()}
	status.Message = fmt.Sprintf("Port=%s Venue=%s Accounts=%v", cfg.Port, cfg.VenueMode, cfg.VenueAccounts)
	if cfg.JWTSecret == "dev-secret" {
		status.Status = "DEGRADED"
		status.Message += " (default operator secret)"
	}
	return status
}

// checkDatabase opens the store and reports client ID locks left behind by
// processes that did not shut down cleanly.
func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := HealthStatus{Service: "Database", Status: "HEALTHY", Timestamp: time.Now()}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Open failed: %v", err)
		return status
	}
	defer database.Close()

	if err := database.DB.PingContext(ctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Ping failed: %v", err)
		return status
	}
	if err := db.ApplyMigrations(database); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Schema check failed: %v", err)
		return status
	}

	locks, err := database.ListClientIDs(ctx, 0)
	if err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Client id query failed: %v", err)
		return status
	}
	active, err := database.ListStackOrders(ctx, "contract", db.StackFilter{ActiveOnly: true})
	if err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Stack query failed: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("Connected (client id locks=%d, active contract orders=%d)", len(locks), len(active))
	return status
}

func checkInstruments(cfg *config.Config) HealthStatus {
	status := HealthStatus{Service: "Instruments", Status: "HEALTHY", Timestamp: time.Now()}

	ins, err := instruments.Load(cfg.InstrumentsPath)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Load failed: %v", err)
		return status
	}
	rolling := 0
	for _, in := range ins.All() {
		if in.RollState != instruments.RollNone && in.RollState != "" {
			rolling++
		}
	}
	status.Message = fmt.Sprintf("%d configured, %d not in no_roll", len(ins.All()), rolling)
	return status
}

// checkVenue pings the bridge without taking a client ID lock.
func checkVenue(ctx context.Context, cfg *config.Config) HealthStatus {
	status := HealthStatus{Service: "Venue", Status: "HEALTHY", Timestamp: time.Now()}

	if cfg.VenueMode != config.VenueModeREST {
		status.Message = "Paper venue (in-process)"
		return status
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.VenueTimeout)
	defer cancel()
	if err := rest.New(cfg.VenueURL, 0, nil).Ping(pingCtx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Bridge not reachable: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("Bridge at %s", cfg.VenueURL)
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := HealthStatus{Service: "API Server", Status: "HEALTHY", Timestamp: time.Now()}

	url := fmt.Sprintf("http://localhost:%s/health", cfg.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}

	status.Message = "Running"
	return status
}
