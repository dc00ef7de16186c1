package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/puravida-software/edgeauth/internal/apigee"
	"github.com/puravida-software/edgeauth/internal/deployment"
	"github.com/puravida-software/edgeauth/internal/payload"
	"github.com/puravida-software/edgeauth/internal/progress"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bundleCmd writes the proxy bundle to disk for a manual upload.
var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Build the edgemicro-auth proxy bundle without deploying it",
	Long: `The bundle command prepares the edgemicro-auth app the same way deploy
does and writes the resulting apiproxy zip to a file, so it can be imported
through the management UI when uploads from the command line time out.`,
	Run: func(cmd *cobra.Command, _ []string) {
		v := bindFlags(cmd)

		bundle, err := runBundle(cmd.Context(), v, os.Stdout)
		if err != nil {
			log.Fatalf("%v\n", err)
		}
		fmt.Printf("blake3: %s\n", bundle.Digest)
	},
}

func init() {
	f := bundleCmd.Flags()
	f.String("output", "", "where to write the bundle (default \"<proxy-name>.zip\")")
	f.StringP("virtual-hosts", "v", "", "comma separated list of virtual hosts (default \""+deployment.DefaultVirtualHosts+"\")")
	addPayloadFlags(f)
}

// addPayloadFlags registers the flags shared by every command that prepares
// the auth app.
func addPayloadFlags(f *pflag.FlagSet) {
	f.StringP("proxy-name", "n", deployment.DefaultProxyName, "name of the API proxy")
	f.String("source", "", "directory of the edgemicro-auth app (default from config)")
	f.String("callout-jar", "", "path of the JWT callout archive (default from config)")
	f.String("workdir", "", "parent directory for the temporary working copy (default OS temp dir)")
}

func runBundle(ctx context.Context, v *viper.Viper, out io.Writer) (*apigee.Bundle, error) {
	cfg, err := loadConfig(v, false)
	if err != nil {
		return nil, err
	}

	narrator := progress.NewNarrator(out)
	proxyName := firstOf(v.GetString("proxy-name"), deployment.DefaultProxyName)
	narrator.Step("preparing %s app to be bundled", proxyName)

	wd, err := payload.NewPreparer(v.GetString("workdir")).Prepare(ctx, firstOf(v.GetString("source"), cfg.Auth.Source))
	defer func() {
		if err := wd.Remove(); err != nil {
			narrator.Warn("Could not remove %s, please delete it manually", wd.Path)
		}
	}()
	if err != nil {
		return nil, err
	}

	bundle, err := apigee.BuildBundle(apigee.BundleOptions{
		API:          proxyName,
		Main:         deployment.MainScript,
		Directory:    wd.Path,
		BasePath:     deployment.BasePath,
		VirtualHosts: splitHosts(firstOf(v.GetString("virtual-hosts"), cfg.EdgeConfig.VirtualHosts, deployment.DefaultVirtualHosts)),
	})
	if err != nil {
		return nil, err
	}

	output := firstOf(v.GetString("output"), proxyName+".zip")
	if err := os.WriteFile(output, bundle.Data, 0o644); err != nil {
		return nil, fmt.Errorf("error writing bundle: %w", err)
	}
	narrator.Done("Bundle written to %s", output)
	return bundle, nil
}
