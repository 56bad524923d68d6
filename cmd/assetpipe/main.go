package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/content"
	"github.com/fpang/asset-pipeline/internal/logging"
	"github.com/fpang/asset-pipeline/internal/manifest"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootCmd is the main Cobra command for the assetpipe CLI.
var rootCmd = &cobra.Command{
	Use:   "assetpipe",
	Short: "Content-addressed asset optimization",
	Long: `assetpipe optimizes a declared set of web assets (images, stylesheets,
scripts and plain files), names every output after a hash of its bytes,
and writes a manifest mapping each logical key to its output path.

Examples:
  assetpipe build --assets assets.jsonc
  assetpipe build --config assetpipe.yaml --assets assets.jsonc --output dist
  assetpipe hash static/logo.png
  assetpipe classify styles/site.scss
  assetpipe manifest dist/asset-manifest.json css/site`,
	SilenceUsage:      true,
	PersistentPreRun:  func(cmd *cobra.Command, args []string) { logging.Init() },
	Version:           version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the content-addressed output name of each file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			in := asset.Input{Name: path}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", content.PathFor(content.Sum(data), in.Ext()), path)
		}
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file>...",
	Short: "Print the optimization route each file would take",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			in := asset.Input{Name: path}
			route := asset.Classify(in)
			label := route.String()
			if route == asset.RouteStyle && asset.IsPreprocessed(in) {
				label += " (preprocessed)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", label, path)
		}
		return nil
	},
}

var manifestCmd = &cobra.Command{
	Use:   "manifest <manifest-file> [key]...",
	Short: "Resolve logical keys against a written manifest",
	Long: `With keys, prints the output path of each key. Without keys, prints the
whole key to path mapping as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			out, err := json.MarshalIndent(m.Paths(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		for _, key := range args[1:] {
			e, ok := m.Lookup(key)
			if !ok {
				return fmt.Errorf("key %q not in manifest %s", key, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd, hashCmd, classifyCmd, manifestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("assetpipe failed")
		os.Exit(1)
	}
}
