// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hpcpipeline/profcore/internal/collective"
	"github.com/hpcpipeline/profcore/internal/finalizer"
	"github.com/hpcpipeline/profcore/internal/pipeline"
	"github.com/hpcpipeline/profcore/internal/sink"
	"github.com/hpcpipeline/profcore/internal/source"
	"github.com/hpcpipeline/profcore/pkg/archive/parquet"
	natsclient "github.com/hpcpipeline/profcore/pkg/nats"
	"github.com/hpcpipeline/profcore/pkg/runtimeEnv"
)

// configSchema bounds the shape of -config before it is decoded into
// runConfig, catching a typo'd type (e.g. "team-size" as a string) with a
// field-level message instead of a generic json.Unmarshal error.
const configSchema = `{
	"type": "object",
	"properties": {
		"addr": {"type": "string"},
		"subject": {"type": "string"},
		"queue": {"type": "string"},
		"user": {"type": "string"},
		"group": {"type": "string"},
		"output-dir": {"type": "string"},
		"s3-bucket": {"type": "string"},
		"s3-endpoint": {"type": "string"},
		"s3-region": {"type": "string"},
		"team-size": {"type": "integer", "minimum": 1}
	}
}`

func validateConfig(raw []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader([]byte(configSchema))); err != nil {
		return err
	}
	s, err := compiler.Compile("config.schema.json")
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

// runConfig is the JSON shape of -config; any field left at its zero value
// falls back to the default below.
type runConfig struct {
	Addr    string `json:"addr"`
	Subject string `json:"subject"`
	Queue   string `json:"queue"`

	User  string `json:"user"`
	Group string `json:"group"`

	OutputDir string `json:"output-dir"`

	S3Bucket   string `json:"s3-bucket"`
	S3Endpoint string `json:"s3-endpoint"`
	S3Region   string `json:"s3-region"`

	TeamSize int `json:"team-size"`
}

var cfg = runConfig{
	Subject:   "profcore.samples",
	OutputDir: "./var/profcore-db",
	TeamSize:  4,
}

func main() {
	var flagConfigFile string
	var flagGops bool
	var flagNoServer bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagNoServer, "no-server", false, "Build the pipeline and exit without subscribing to a feed")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Fatalf("parsing '.env' file failed: %s", err.Error())
	}

	if raw, err := os.ReadFile(flagConfigFile); err == nil {
		if err := validateConfig(raw); err != nil {
			cclog.Fatalf("%q does not match config.schema.json: %s", flagConfigFile, err.Error())
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			cclog.Fatalf("parsing %q failed: %s", flagConfigFile, err.Error())
		}
	} else if !os.IsNotExist(err) || flagConfigFile != "./config.json" {
		cclog.Fatal(err.Error())
	}

	if strings.HasPrefix(cfg.Addr, "env:") {
		cfg.Addr = os.Getenv(strings.TrimPrefix(cfg.Addr, "env:"))
	}

	target, err := buildTarget()
	if err != nil {
		cclog.Fatalf("setting up output target failed: %s", err.Error())
	}

	natsCfg := &natsclient.NatsConfig{Address: cfg.Addr}
	client, err := natsclient.NewClient(natsCfg)
	if err != nil {
		cclog.Fatalf("connecting to nats failed: %s", err.Error())
	}

	natsSrc := source.NewNatsSource(client, cfg.Subject, cfg.Queue)

	settings := pipeline.NewSettings(cfg.TeamSize).
		AddSource(natsSrc).
		AddFinalizer(finalizer.NewDenseIds()).
		AddFinalizer(finalizer.NewDirectClassification()).
		AddFinalizer(finalizer.NewStructFile()).
		AddFinalizer(finalizer.NewLogicalModules()).
		AddFinalizer(finalizer.NewKernelSymbols()).
		AddSink(sink.NewMetaDB(target, "meta")).
		AddSink(sink.NewSparseDB(target, "sparse")).
		AddSink(sink.NewMetricsYAML(target, "metrics.yaml")).
		AddSink(sink.NewIdPacker(target))

	// A distributed run wires collective.NewTree over a real Transport
	// instead; no such Transport is built here, so every run reduces over
	// the degenerate single-rank Standalone collective.
	coll := collective.NewStandalone()
	sender := sink.NewMetricSender(coll)
	settings.AddSink(sender).AddSink(sink.NewMetricReceiver(sender))

	p := pipeline.Build(settings)
	p.Configure()
	p.Freeze()

	if flagNoServer {
		return
	}

	if err := runtimeEnv.DropPrivileges(cfg.User, cfg.Group); err != nil {
		cclog.Fatalf("error while changing user: %s", err.Error())
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		natsSrc.Stop()
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	if err := p.Run(); err != nil {
		cclog.Fatalf("pipeline run failed: %s", err.Error())
	}

	cclog.Printf("database written to %s", cfg.OutputDir)
}

func buildTarget() (parquet.ParquetTarget, error) {
	if cfg.S3Bucket == "" {
		return parquet.NewFileTarget(cfg.OutputDir)
	}
	return parquet.NewS3Target(parquet.S3TargetConfig{
		Endpoint:     cfg.S3Endpoint,
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		UsePathStyle: cfg.S3Endpoint != "",
	})
}
