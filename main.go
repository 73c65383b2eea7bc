// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/sapcc/go-bits/pprofapi"
	"github.com/sapcc/go-bits/sqlext"
	"github.com/spf13/pflag"

	"github.com/sapcc/tabularium/internal/collector"
	"github.com/sapcc/tabularium/internal/core"
	"github.com/sapcc/tabularium/internal/db"
	"github.com/sapcc/tabularium/internal/prune"

	_ "github.com/sapcc/tabularium/internal/portals/socrata"
)

// outboundHeaderTimeout bounds each individual portal request; retries across
// attempts are handled inside core.NewHTTPClient.
const outboundHeaderTimeout = 60 * time.Second

func main() {
	bininfo.HandleVersionArgument()
	logg.ShowDebug = osext.GetenvBool("TABULARIUM_DEBUG")

	// first two arguments must be task name and configuration file
	if len(os.Args) < 3 {
		printUsageAndExit()
	}
	taskName, configPath, remainingArgs := os.Args[1], os.Args[2], os.Args[3:]
	bininfo.SetTaskName(taskName)

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		logg.Fatal("cannot read configuration file %s: %s", configPath, err.Error())
	}
	config, errs := core.NewServiceConfigurationFromYAML(configBytes)
	exitOnErrors(errs)
	service, errs := core.NewService(config)
	exitOnErrors(errs)

	var task func(context.Context, *core.Service, []string) error
	switch taskName {
	case "collect":
		task = taskCollect
	case "ingest":
		task = taskIngest
	case "prune":
		task = taskPrune
	case "test-discover":
		task = taskTestDiscover
	default:
		printUsageAndExit()
	}

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)
	err = task(ctx, service, remainingArgs)
	if err != nil {
		logg.Fatal(err.Error())
	}
}

var usageMessage = strings.Replace(strings.TrimSpace(`
Usage:
\t%s collect <config-file>
\t%s ingest <config-file> [--regions <list>] [--page-size <n>] [--limit <n>] [--batch-size <n>] [--resume-from <token>] [--dry-run]
\t%s prune <config-file> [--host <host>] [--json]
\t%s test-discover <config-file> <region> [--limit <n>]
`), `\t`, "\t", -1) + "\n"

func printUsageAndExit() {
	fmt.Fprintln(os.Stderr, strings.Replace(usageMessage, "%s", os.Args[0], -1))
	os.Exit(1)
}

func exitOnErrors(errs errext.ErrorSet) {
	if errs.IsEmpty() {
		return
	}
	for _, err := range errs {
		logg.Error(err.Error())
	}
	os.Exit(1)
}

// connectDrivers gives all portal drivers their outbound HTTP client. Tasks
// that only read from the database skip this.
func connectDrivers(service *core.Service) {
	client := core.NewHTTPClient(service.Config.Pipeline.Retry, outboundHeaderTimeout)
	exitOnErrors(service.Connect(client))
}

////////////////////////////////////////////////////////////////////////////////
// task: collect

func taskCollect(ctx context.Context, service *core.Service, args []string) error {
	if len(args) != 0 {
		printUsageAndExit()
	}
	connectDrivers(service)

	dbConn := must.Return(db.Init())
	dbm := db.InitORM(dbConn)

	c := collector.NewCollector(service, dbm)
	collector.RegisterPipelineMetrics(prometheus.DefaultRegisterer)
	prometheus.MustRegister(&collector.AggregateMetricsCollector{DB: dbm})

	go c.IngestJob(nil).Run(ctx)
	go c.DatasetSyncJob(nil).Run(ctx)
	if service.Config.Sync.PruneEnabled {
		logg.Info("dataset pruning is enabled for catalog syncs")
	}
	go c.RetirementJob(nil).Run(ctx)

	handler := http.NewServeMux()
	handler.Handle("/", httpapi.Compose(
		httpapi.HealthCheckAPI{SkipRequestLog: true},
		pprofapi.API{IsAuthorized: pprofapi.IsRequestFromLocalhost},
	))
	handler.Handle("/metrics", promhttp.Handler())

	listenAddr := osext.GetenvOrDefault("TABULARIUM_LISTEN_ADDRESS", ":8080")
	return httpext.ListenAndServeContext(ctx, listenAddr, handler)
}

////////////////////////////////////////////////////////////////////////////////
// task: ingest

func taskIngest(ctx context.Context, service *core.Service, args []string) error {
	flags := pflag.NewFlagSet("tabularium ingest", pflag.ExitOnError)
	regions := flags.StringSlice("regions", nil, "restrict discovery to these regions (default: all configured regions)")
	pageSize := flags.Int("page-size", 0, "discovery page size (default: from configuration)")
	limit := flags.Int("limit", 0, "stop after this many catalog items (default: from configuration)")
	batchSize := flags.Int("batch-size", 0, "how many items to persist per transaction (default: from configuration)")
	resumeFrom := flags.String("resume-from", "", "resume token to start from (default: stored checkpoint)")
	dryRun := flags.Bool("dry-run", false, "run the pipeline without writing to the database")
	must.Succeed(flags.Parse(args))

	// Mutating ingest runs against shared state are not allowed from CI.
	if osext.GetenvBool("CI") && !*dryRun {
		logg.Fatal("refusing to run a mutating ingest in CI (use --dry-run)")
	}

	opts := collector.RunOptions{
		PageSize:   *pageSize,
		Limit:      *limit,
		BatchSize:  *batchSize,
		DryRun:     *dryRun,
		ResumeFrom: *resumeFrom,
	}
	for _, input := range *regions {
		region, ok := core.ParseRegion(input)
		if !ok {
			logg.Fatal("unknown region %q", input)
		}
		opts.Regions = append(opts.Regions, region)
	}

	connectDrivers(service)
	dbConn := must.Return(db.Init())
	c := collector.NewCollector(service, db.InitORM(dbConn))
	collector.RegisterPipelineMetrics(prometheus.DefaultRegisterer)

	report, err := c.RunIngest(ctx, opts)
	// The report is printed even on failure; it records how far the run got.
	fmt.Println(string(must.Return(json.MarshalIndent(report, "", "  "))))
	return err
}

////////////////////////////////////////////////////////////////////////////////
// task: prune

var pruneCandidatesQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM datasets
	 WHERE active AND ($1 = '' OR host = $1)
	 ORDER BY host, dataset_id
`)

type hostPruneResult struct {
	Host string
	prune.Result
}

func taskPrune(_ context.Context, service *core.Service, args []string) error {
	flags := pflag.NewFlagSet("tabularium prune", pflag.ExitOnError)
	hostFilter := flags.String("host", "", "only evaluate datasets on this host")
	jsonOutput := flags.Bool("json", false, "report as JSON instead of human-readable text")
	must.Succeed(flags.Parse(args))

	dbConn := must.Return(db.Init())
	dbm := db.InitORM(dbConn)

	var datasets []db.Dataset
	_, err := dbm.Select(&datasets, pruneCandidatesQuery, *hostFilter)
	if err != nil {
		return err
	}

	// group by host, preserving the query's host order
	var hosts []string
	candidatesByHost := make(map[string][]prune.Candidate)
	for _, dataset := range datasets {
		if _, exists := candidatesByHost[dataset.Host]; !exists {
			hosts = append(hosts, dataset.Host)
		}
		candidatesByHost[dataset.Host] = append(candidatesByHost[dataset.Host], prune.Candidate{
			ID:          dataset.DatasetID,
			Name:        dataset.Title,
			Description: dataset.Description,
			Category:    dataset.Category,
			Tags:        dataset.Tags(),
			Publisher:   dataset.Publisher,
			Permalink:   dataset.Link,
			UpdatedAt:   dataset.UpdatedAt,
		})
	}

	engine := prune.NewEngine(service.Config.Prune, time.Now)
	results := make([]hostPruneResult, 0, len(hosts))
	for _, host := range hosts {
		results = append(results, hostPruneResult{
			Host:   host,
			Result: engine.Evaluate(candidatesByHost[host]),
		})
	}

	if *jsonOutput {
		fmt.Println(string(must.Return(json.MarshalIndent(results, "", "  "))))
		return nil
	}

	var totalKept, totalDropped int
	for _, result := range results {
		fmt.Printf("%s: %d kept, %d dropped\n", result.Host, len(result.Kept), len(result.Dropped))
		for _, dropped := range result.Dropped {
			fmt.Printf("  drop %s (%s): %s\n", dropped.ID, dropped.Name, dropped.Reason)
		}
	}
	for _, result := range results {
		totalKept += len(result.Kept)
		totalDropped += len(result.Dropped)
	}
	fmt.Printf("total: %d kept, %d dropped across %d hosts\n", totalKept, totalDropped, len(results))
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// task: test-discover

func taskTestDiscover(ctx context.Context, service *core.Service, args []string) error {
	flags := pflag.NewFlagSet("tabularium test-discover", pflag.ExitOnError)
	limit := flags.Int("limit", 0, "stop after this many catalog items (0 = no limit)")
	must.Succeed(flags.Parse(args))
	if len(flags.Args()) != 1 {
		printUsageAndExit()
	}
	region, ok := core.ParseRegion(flags.Arg(0))
	if !ok {
		logg.Fatal("unknown region %q", flags.Arg(0))
	}

	connectDrivers(service)
	discovery, exists := service.Discovery(core.SourceSocrata)
	if !exists {
		return fmt.Errorf("no %s portal is configured", core.SourceSocrata)
	}

	iter := discovery.DiscoverCatalogItems(region, core.DiscoverOpts{Limit: *limit})
	encoder := json.NewEncoder(os.Stdout)
	count := 0
	for {
		item, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		must.Succeed(encoder.Encode(item))
		count++
	}
	logg.Info("discovered %d catalog items in region %s", count, region)
	return nil
}
