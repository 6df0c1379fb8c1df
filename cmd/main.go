/*
Copyright 2025 Pulp Health Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pulphealth/pulp"
	"github.com/pulphealth/pulp/config"
	"github.com/pulphealth/pulp/internal/notification"
	"github.com/pulphealth/pulp/provider"
)

// Pulp represents the CLI application, encapsulating the root Cobra command.
type Pulp struct {
	cmd *cobra.Command
}

// pulpInstance holds the runtime core and its configuration, shared by
// every subcommand.
type pulpInstance struct {
	pulp *pulp.Pulp
	cnf  *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the verification core
// before any command runs.
func preRun(app *pulpInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("pulp.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPulp, err := setupPulp(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.pulp = newPulp
		app.cnf = cnf

		return nil
	}
}

// setupPulp builds the provider chain from configuration and wires the
// verification core around it. The primary clearinghouse comes first;
// configured fallback endpoints are tried in order when it fails.
func setupPulp(cfg *config.Configuration) (*pulp.Pulp, error) {
	providers := []provider.EligibilityProvider{
		provider.NewHTTPClearinghouse(cfg.Clearinghouse.Name, cfg.Clearinghouse),
	}
	for _, endpoint := range cfg.Clearinghouse.Fallbacks {
		fallbackCfg := cfg.Clearinghouse
		fallbackCfg.HttpService = endpoint.HttpService
		providers = append(providers, provider.NewHTTPClearinghouse(endpoint.Name, fallbackCfg))
	}

	newPulp, err := pulp.NewPulp(providers...)
	if err != nil {
		return nil, fmt.Errorf("error creating pulp: %v", err)
	}
	return newPulp, nil
}

// NewCLI creates the command-line interface for the Pulp server.
func NewCLI() *Pulp {
	var configFile string
	b := &pulpInstance{}

	var rootCmd = &cobra.Command{
		Use:   "pulp",
		Short: "Dental insurance verification server",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./pulp.json", "Configuration file for the pulp server")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Pulp{cmd: rootCmd}
}

func (w Pulp) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
