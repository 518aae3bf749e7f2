// Command raystack renders the texture-marshaling reproduction scene with a
// named configuration and writes the result as a PNG.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/gekko3d/raystack"
	"github.com/gekko3d/raystack/gpuengine"
	"github.com/gekko3d/raystack/softengine"
)

func main() {
	var (
		configName = flag.String("config", "cpu1", "run configuration name")
		configFile = flag.String("file", "", "optional TOML file with extra configurations")
		output     = flag.String("out", "", "output PNG path (default <config>-<run id>.png)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log := raystack.NewDefaultLogger("raystack", *debug)
	if err := run(log, *configName, *configFile, *output); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(log raystack.Logger, configName, configFile, output string) error {
	configs := raystack.BuiltinConfigs()
	if configFile != "" {
		var err error
		configs, err = raystack.LoadConfigs(configFile)
		if err != nil {
			return err
		}
	}
	cfg, ok := configs[configName]
	if !ok {
		return fmt.Errorf("unknown configuration %q, have: %s",
			configName, strings.Join(raystack.ConfigNames(configs), ", "))
	}

	runID := uuid.NewString()
	if output == "" {
		output = fmt.Sprintf("%s-%s.png", configName, runID[:8])
	}
	log.Infof("run %s: config %s (gpu=%v resolution=%d size=%d)",
		runID, configName, cfg.GPU, cfg.Resolution, cfg.Size)

	var eng raystack.Engine
	if cfg.GPU {
		gpu, err := gpuengine.New(log)
		if err != nil {
			return fmt.Errorf("acquire gpu device: %w", err)
		}
		defer func() {
			if err := gpu.Close(); err != nil {
				log.Errorf("close gpu device: %v", err)
			}
		}()
		eng = gpu
	} else {
		eng = softengine.NewWithLogger(log)
	}

	h := &raystack.Harness{
		Engine: eng,
		Config: cfg,
		Label:  configName,
		Log:    log,
	}
	return h.Run(output)
}
