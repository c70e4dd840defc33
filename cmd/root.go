// Package cmd implements the command-line interface for foundry-proxy.
package cmd

import (
	"os"
	"strings"

	"github.com/arutyunov/foundry-proxy/internal/proxy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var config proxy.Configuration

// Execute runs the command-line interface.
func Execute() {
	rootCmd.SilenceUsage = false
	rootCmd.SilenceErrors = false
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foundry-proxy",
	Short: "OpenAI-compatible proxy for Azure AI Foundry",
	Long:  "Fronts an Entra-authenticated Foundry MaaS endpoint with an OpenAI-compatible API and strips reasoning markup from responses.",
	Example: `foundry-proxy --proxy_secret=mysecret --registry_path=config.yaml --log_level=debug
PROXY_SECRET=mysecret PROXY_CONFIG_PATH=config.yaml LOG_LEVEL=debug foundry-proxy`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.ProxySecret == "" {
			config.ProxySecret = viper.GetString("proxy_secret")
		}
		if config.RegistryPath == "" {
			config.RegistryPath = viper.GetString("registry_path")
		}
		if config.Port == 0 {
			config.Port = viper.GetInt("port")
		}
		if config.LogLevel == "" {
			config.LogLevel = viper.GetString("log_level")
		}
		if config.LogLevel == "" {
			config.LogLevel = "info"
		}
		if config.RequestTimeoutSeconds == 0 {
			config.RequestTimeoutSeconds = viper.GetInt("request_timeout")
		}
		if config.TokenScope == "" {
			config.TokenScope = viper.GetString("token_scope")
		}
		if config.IdentityEndpoint == "" {
			config.IdentityEndpoint = viper.GetString("identity_endpoint")
		}
		if config.IdentityHeader == "" {
			config.IdentityHeader = viper.GetString("identity_header")
		}
		if config.FallbackModelID == "" {
			config.FallbackModelID = viper.GetString("model_id")
		}
		if config.FallbackEndpoint == "" {
			config.FallbackEndpoint = viper.GetString("foundry_endpoint")
		}

		var logger *zap.Logger
		normalizedLevel := strings.ToLower(config.LogLevel)
		if normalizedLevel == "debug" {
			logger, _ = zap.NewDevelopment()
		} else {
			logger, _ = zap.NewProduction()
		}
		defer logger.Sync()
		sugar := logger.Sugar()

		sugar.Infow("starting proxy", "port", config.Port, "log_level", normalizedLevel)
		return proxy.Serve(config, sugar)
	},
}

func init() {
	viper.AutomaticEnv()

	viper.BindEnv("proxy_secret", "PROXY_SECRET")
	viper.BindEnv("registry_path", "PROXY_CONFIG_PATH")
	viper.BindEnv("port", "PORT")
	viper.BindEnv("log_level", "LOG_LEVEL")
	viper.BindEnv("request_timeout", "REQUEST_TIMEOUT")
	viper.BindEnv("token_scope", "TOKEN_SCOPE")
	viper.BindEnv("identity_endpoint", "IDENTITY_ENDPOINT")
	viper.BindEnv("identity_header", "IDENTITY_HEADER")
	viper.BindEnv("model_id", "MODEL_ID")
	viper.BindEnv("foundry_endpoint", "FOUNDRY_ENDPOINT")

	rootCmd.Flags().StringVar(
		&config.ProxySecret,
		"proxy_secret",
		"",
		"shared secret clients must present as a bearer token (env: PROXY_SECRET)",
	)
	rootCmd.Flags().StringVar(
		&config.RegistryPath,
		"registry_path",
		"",
		"path to the YAML model registry file (env: PROXY_CONFIG_PATH)",
	)
	rootCmd.Flags().IntVar(
		&config.Port,
		"port",
		proxy.DefaultPort,
		"TCP port to listen on (env: PORT)",
	)
	rootCmd.Flags().StringVar(
		&config.LogLevel,
		"log_level",
		"",
		"logging level: debug or info (env: LOG_LEVEL)",
	)
	rootCmd.Flags().IntVar(
		&config.RequestTimeoutSeconds,
		"request_timeout",
		0,
		"upstream request timeout in seconds (env: REQUEST_TIMEOUT)",
	)
	rootCmd.Flags().StringVar(
		&config.TokenScope,
		"token_scope",
		"",
		"Entra resource scope for token acquisition (env: TOKEN_SCOPE)",
	)
	rootCmd.Flags().StringVar(
		&config.IdentityEndpoint,
		"identity_endpoint",
		"",
		"managed identity token endpoint override; IMDS when empty (env: IDENTITY_ENDPOINT)",
	)
	rootCmd.Flags().StringVar(
		&config.IdentityHeader,
		"identity_header",
		"",
		"secret header value for the App Service identity endpoint (env: IDENTITY_HEADER)",
	)
	rootCmd.Flags().StringVar(
		&config.FallbackModelID,
		"model_id",
		"",
		"fallback model id when no registry file exists (env: MODEL_ID)",
	)
	rootCmd.Flags().StringVar(
		&config.FallbackEndpoint,
		"foundry_endpoint",
		"",
		"fallback upstream endpoint when no registry file exists (env: FOUNDRY_ENDPOINT)",
	)

	viper.BindPFlags(rootCmd.Flags())
}
