package main

import (
	"fmt"
	"log"
	"os"

	"github.com/levinOo/go-telemetry-pipeline/internal/config"
	"github.com/levinOo/go-telemetry-pipeline/internal/service"
)

var (
	buildVersion string = "N/A"
	buildDate    string = "N/A"
	buildCommit  string = "N/A"
)

func main() {
	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)

	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if buildVersion != "N/A" && os.Getenv("SERVICE_VERSION") == "" {
		cfg.ServiceVersion = buildVersion
	}

	return service.Serve(cfg)
}
