// Package main 提供运维命令行工具：签发运维 token、导入知识库文件。
package main

import (
	"context"
	"fmt"
	"os"

	"answer-desk/internal/config"
	"answer-desk/internal/pipeline"
	"answer-desk/internal/service"
	"answer-desk/pkg/es"
	"answer-desk/pkg/log"
	"answer-desk/pkg/token"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "deskctl",
		Short: "Operator tooling for the answer desk",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "config file path")

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init("warn", "console", "")
	return cfg, nil
}

func tokenCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Print an operator JWT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours).GenerateToken(args[0], role)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", token.RoleOperator, "operator or admin")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Index a knowledge base file into Elasticsearch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Knowledge.SeedFile
			if len(args) == 1 {
				path = args[0]
			}

			client, err := es.NewClient(cfg.Elasticsearch)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := es.EnsureIndex(ctx, client, cfg.Elasticsearch.KnowledgeIndex, es.KnowledgeMapping); err != nil {
				return err
			}

			loader := pipeline.NewKnowledgeLoader(service.NewKnowledgeService(client, cfg.Elasticsearch.KnowledgeIndex), nil, 5)
			n, err := loader.LoadFile(ctx, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d entries from %s\n", n, path)
			return nil
		},
	}
}
