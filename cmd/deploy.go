package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/puravida-software/edgeauth/internal/config"
	"github.com/puravida-software/edgeauth/internal/deployment"
	"github.com/puravida-software/edgeauth/internal/deployment/models"
	"github.com/puravida-software/edgeauth/internal/payload"
	"github.com/puravida-software/edgeauth/internal/progress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// deployCmd represents the deploy command.
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the edgemicro-auth proxy",
	Long: `The deploy command uploads the edgemicro-auth app to your organization,
deploys it to the given environments and attaches the JWT callout.`,
	Run: func(cmd *cobra.Command, _ []string) {
		v := bindFlags(cmd)

		res, err := runDeploy(cmd.Context(), v, os.Stdout)
		if err != nil {
			log.Fatalf("%v\n", err)
		}

		fmt.Println()
		fmt.Println("Please copy following property to your edgemicro config:")
		fmt.Printf("jwt_public_key: %s\n", res.PublicKeyURL)
	},
}

func init() {
	f := deployCmd.Flags()
	f.StringP("org", "o", "", "the organization")
	f.StringP("env", "e", "", "the environment, or a comma separated list of environments")
	f.StringP("username", "u", "", "username of the organization admin")
	f.StringP("password", "p", "", "password of the organization admin")
	f.StringP("virtual-hosts", "v", "", "comma separated list of virtual hosts (default \""+deployment.DefaultVirtualHosts+"\")")
	f.String("url", "", "the auth endpoint is a literal URL, not a template")
	addPayloadFlags(f)
}

func runDeploy(ctx context.Context, v *viper.Viper, out io.Writer) (*models.Result, error) {
	cfg, err := loadConfig(v, true)
	if err != nil {
		return nil, err
	}

	req := models.Request{
		Org:          v.GetString("org"),
		Env:          v.GetString("env"),
		Username:     v.GetString("username"),
		Password:     v.GetString("password"),
		Debug:        v.GetBool("debug"),
		ProxyName:    v.GetString("proxy-name"),
		VirtualHosts: firstOf(v.GetString("virtual-hosts"), cfg.EdgeConfig.VirtualHosts),
		URL:          v.GetString("url"),
	}
	if err := requireOptions(req); err != nil {
		return nil, err
	}

	orchestrator, err := deployment.NewOrchestrator(
		cfg.EdgeConfig.ManagementURI,
		cfg.EdgeConfig.AuthURI,
		deployment.DefaultSettings(firstOf(v.GetString("callout-jar"), cfg.Auth.CalloutJar)),
		deployment.NewClientFactory(&http.Client{}),
		progress.NewNarrator(out),
	)
	if err != nil {
		return nil, err
	}

	source := firstOf(v.GetString("source"), cfg.Auth.Source)
	return orchestrator.Run(ctx, payload.NewPreparer(v.GetString("workdir")), source, req)
}

func requireOptions(req models.Request) error {
	var missing []string
	for _, opt := range []struct{ name, value string }{
		{"org", req.Org},
		{"env", req.Env},
		{"username", req.Username},
		{"password", req.Password},
	} {
		if opt.value == "" {
			missing = append(missing, opt.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required options: %s", strings.Join(missing, ", "))
	}
	return nil
}

// loadConfig reads the config file named by the config flag. When the file
// is optional and was not asked for explicitly, a missing file yields an
// empty config.
func loadConfig(v *viper.Viper, required bool) (*config.Config, error) {
	path := v.GetString("config")
	cfg, err := config.ReadConfig(path)
	if err != nil {
		if !required && path == "" && errors.Is(err, os.ErrNotExist) {
			return &config.Config{}, nil
		}
		return nil, err
	}
	if required {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
