// Copyright 2024 kharf
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/kharf/k8sdeploy/internal/logging"
	"github.com/kharf/k8sdeploy/pkg/compat"
	"github.com/kharf/k8sdeploy/pkg/deploy"
	"github.com/kharf/k8sdeploy/pkg/inventory"
	"github.com/kharf/k8sdeploy/pkg/kube"
	"github.com/kharf/k8sdeploy/pkg/manifest"
	"github.com/kharf/k8sdeploy/pkg/secret"
	"github.com/kharf/k8sdeploy/pkg/template"
	"github.com/kharf/k8sdeploy/pkg/values"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
)

var Version = "development"

var (
	ErrMissingFlag              = errors.New("Required flag is missing")
	ErrConflictingSecretSources = errors.New("Only one secrets source can be used")
	ErrSecretsRequired          = errors.New("Initialization requires secrets")
)

const (
	manifestsFlag        = "manifests"
	valuesFlag           = "values"
	secretsFlag          = "secrets"
	secretsFromEnvFlag   = "secrets-from-env"
	secretsFromVaultFlag = "secrets-from-vault"
	vaultMountFlag       = "vault-mount"
	vaultAddressFlag     = "vault-address"
	vaultTokenFlag       = "vault-token"
	ageIdentityFlag      = "age-identity"
	dryRunFlag           = "dry-run"
	kubeconfigFlag       = "kubeconfig"
	kubectlFlag          = "kubectl"
	stagingDirFlag       = "staging-dir"
	logLevelFlag         = "log-level"
	workersFlag          = "workers"
)

func main() {
	cfg, err := initCliConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	root := initCli(cfg, os.Stderr)
	if err := root.Build().Execute(); err != nil {
		os.Exit(1)
	}
}

type RootCommandBuilder struct {
	config               *viper.Viper
	initCommandBuilder   DeployCommandBuilder
	updateCommandBuilder DeployCommandBuilder
}

func (builder RootCommandBuilder) Build() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "k8s-deploy",
		Short:        "Deploy and update workloads from templated Kubernetes manifests",
		Version:      Version,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP(manifestsFlag, "m", "", "Directory containing the manifests")
	flags.StringP(valuesFlag, "v", "", "TOML file containing the values")
	flags.StringP(secretsFlag, "s", "", "TOML file containing the secrets")
	flags.String(secretsFromEnvFlag, "", "Environment variable containing the secrets as TOML")
	flags.String(secretsFromVaultFlag, "", "Vault KV v2 path containing the secrets")
	flags.String(vaultMountFlag, secret.DefaultVaultMount, "Vault KV v2 mount")
	flags.String(vaultAddressFlag, "", "Vault address. Defaults to VAULT_ADDR")
	flags.String(vaultTokenFlag, "", "Vault token. Defaults to VAULT_TOKEN")
	flags.String(ageIdentityFlag, "", "age identity file used to decrypt the secrets file")
	flags.Bool(dryRunFlag, false, "Validate everything without changing the cluster")
	flags.String(kubeconfigFlag, "", "Path to the kubeconfig. Defaults to the kubeconfig loading rules")
	flags.String(kubectlFlag, "kubectl", "Path to the kubectl binary")
	flags.String(stagingDirFlag, "", "Directory receiving the resolved manifests. Defaults to <manifests>/"+deploy.StagingDirectory)
	flags.String(logLevelFlag, "info", "Log level: debug, info, warn or error")
	flags.Int(workersFlag, 0, "Number of manifest files resolved concurrently, GOMAXPROCS when 0")
	cobra.CheckErr(builder.config.BindPFlags(flags))

	rootCmd.AddCommand(builder.initCommandBuilder.Build())
	rootCmd.AddCommand(builder.updateCommandBuilder.Build())
	return rootCmd
}

// DeployCommandBuilder builds the command running a deployment in one mode.
type DeployCommandBuilder struct {
	config *viper.Viper
	mode   deploy.Mode
	short  string
	out    io.Writer
}

func (builder DeployCommandBuilder) Build() *cobra.Command {
	return &cobra.Command{
		Use:   builder.mode.String(),
		Short: builder.short,
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDeployment(ctx, builder.config, builder.mode, builder.out)
		},
	}
}

func initCliConfig() (*viper.Viper, error) {
	config := viper.New()
	config.SetEnvPrefix("k8sdeploy")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	config.AutomaticEnv()
	if err := config.BindEnv(vaultAddressFlag, "K8SDEPLOY_VAULT_ADDRESS", "VAULT_ADDR"); err != nil {
		return nil, err
	}
	if err := config.BindEnv(vaultTokenFlag, "K8SDEPLOY_VAULT_TOKEN", "VAULT_TOKEN"); err != nil {
		return nil, err
	}
	return config, nil
}

func initCli(config *viper.Viper, out io.Writer) *RootCommandBuilder {
	return &RootCommandBuilder{
		config: config,
		initCommandBuilder: DeployCommandBuilder{
			config: config,
			mode:   deploy.Init,
			short:  "Create a deployment: its namespace, secrets and manifests",
			out:    out,
		},
		updateCommandBuilder: DeployCommandBuilder{
			config: config,
			mode:   deploy.Update,
			short:  "Update an existing deployment",
			out:    out,
		},
	}
}

func runDeployment(ctx context.Context, config *viper.Viper, mode deploy.Mode, out io.Writer) error {
	log, err := logging.New(config.GetString(logLevelFlag), out)
	if err != nil {
		return err
	}

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.V(1).Info(fmt.Sprintf(format, args...))
	}))
	defer undo()
	if err != nil {
		log.Error(err, "Unable to set GOMAXPROCS")
	}

	orchestrator, err := newOrchestrator(ctx, config, mode, log)
	if err != nil {
		log.Error(err, "Unable to prepare deployment")
		return err
	}
	return orchestrator.Run(ctx)
}

func newOrchestrator(
	ctx context.Context,
	config *viper.Viper,
	mode deploy.Mode,
	log logr.Logger,
) (*deploy.Orchestrator, error) {
	manifestsDir, err := requiredPath(config, manifestsFlag)
	if err != nil {
		return nil, err
	}
	valuesPath, err := requiredPath(config, valuesFlag)
	if err != nil {
		return nil, err
	}

	publicValues, err := values.Load(valuesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", deploy.ErrConfigurationInvalid, err)
	}
	settings, err := deploy.SettingsFromValues(publicValues)
	if err != nil {
		return nil, err
	}

	secrets, err := loadSecrets(ctx, config, mode, log)
	if err != nil {
		return nil, err
	}

	kubeconfig, err := optionalPath(config, kubeconfigFlag)
	if err != nil {
		return nil, err
	}
	dryRun := config.GetBool(dryRunFlag)
	client, err := kube.New(kubeconfig, settings.Context, dryRun)
	if err != nil {
		return nil, err
	}

	kubectlPath, err := optionalPath(config, kubectlFlag)
	if err != nil {
		return nil, err
	}
	kubectl := kube.Kubectl{
		Path:       kubectlPath,
		Kubeconfig: kubeconfig,
		Context:    settings.Context,
		DryRun:     dryRun,
		Log:        log,
	}

	stagingDir, err := optionalPath(config, stagingDirFlag)
	if err != nil {
		return nil, err
	}

	return &deploy.Orchestrator{
		Log:          log.WithName("deploy"),
		Settings:     settings,
		Mode:         mode,
		ManifestsDir: manifestsDir,
		StagingDir:   stagingDir,
		Workers:      config.GetInt(workersFlag),
		Gate: compat.Gate{
			Log:     log.WithName("compat"),
			Local:   kubectl.ClientVersion,
			Cluster: client.ServerVersion,
		},
		Cluster: client,
		Importer: inventory.Tracker{
			Log: log.WithName("import"),
			Store: &kube.ConfigMapStore{
				Client:    client,
				Namespace: kube.AutomationNamespace,
			},
			Applier: kubectl,
		},
		Transformer: manifest.NewPipeline(template.NewResolver(publicValues, secrets)),
		Applier:     kubectl,
	}, nil
}

// loadSecrets loads the secrets of the one configured source.
// Initialization fails without a source, updates continue with an empty tree.
func loadSecrets(ctx context.Context, config *viper.Viper, mode deploy.Mode, log logr.Logger) (values.Tree, error) {
	source, err := secretSource(config)
	if err != nil {
		return values.Tree{}, err
	}
	if source == nil {
		if mode == deploy.Init {
			return values.Tree{}, fmt.Errorf(
				"%w: use --%s, --%s or --%s",
				ErrSecretsRequired,
				secretsFlag,
				secretsFromEnvFlag,
				secretsFromVaultFlag,
			)
		}
		log.Info("No secrets provided, secrets files can only be checked, not created")
		return values.Tree{}, nil
	}
	return source.Load(ctx)
}

// secretSource returns the configured secrets source or nil when none is configured.
func secretSource(config *viper.Viper) (secret.Source, error) {
	file, err := optionalPath(config, secretsFlag)
	if err != nil {
		return nil, err
	}
	env := strings.TrimSpace(config.GetString(secretsFromEnvFlag))
	vaultPath := strings.TrimSpace(config.GetString(secretsFromVaultFlag))

	configured := 0
	for _, value := range []string{file, env, vaultPath} {
		if value != "" {
			configured++
		}
	}
	if configured > 1 {
		return nil, fmt.Errorf(
			"%w: --%s, --%s and --%s are mutually exclusive",
			ErrConflictingSecretSources,
			secretsFlag,
			secretsFromEnvFlag,
			secretsFromVaultFlag,
		)
	}

	switch {
	case file != "":
		source := secret.FileSource{Path: file}
		identityPath, err := optionalPath(config, ageIdentityFlag)
		if err != nil {
			return nil, err
		}
		if identityPath != "" {
			source.Identities, err = secret.ParseIdentities(identityPath)
			if err != nil {
				return nil, err
			}
		}
		return source, nil
	case env != "":
		return secret.EnvSource{Name: env}, nil
	case vaultPath != "":
		return secret.NewVaultSource(
			config.GetString(vaultAddressFlag),
			config.GetString(vaultTokenFlag),
			config.GetString(vaultMountFlag),
			vaultPath,
		)
	}
	return nil, nil
}

func requiredPath(config *viper.Viper, flag string) (string, error) {
	path, err := optionalPath(config, flag)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w: --%s", ErrMissingFlag, flag)
	}
	return path, nil
}

func optionalPath(config *viper.Viper, flag string) (string, error) {
	path := strings.TrimSpace(config.GetString(flag))
	if path == "" {
		return "", nil
	}
	return homedir.Expand(path)
}
