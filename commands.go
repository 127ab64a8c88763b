package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cfsupport/internal/bundle"
	"cfsupport/internal/codefresh"
	"cfsupport/internal/collector"
	"cfsupport/internal/config"
	"cfsupport/internal/kube"
	"cfsupport/internal/logger"
	"cfsupport/internal/updater"
	"cfsupport/internal/version"
)

const pipelinesRuntimeSpecFile = "pipelines-runtime-spec.yaml"

// collectionRequest describes one support package run.
type collectionRequest struct {
	Command   string
	Profile   collector.Profile
	Namespace string
	// Documents are written into the bundle before the cluster is collected.
	Documents []document
}

type document struct {
	Name  string
	Value any
}

// NewGitOpsCommand creates the gitops runtime command
func NewGitOpsCommand() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "gitops",
		Short: "Collect a support package for a Codefresh GitOps runtime",
		Long:  "Collects cluster resources, Codefresh GitOps and Argo custom resources, events, pod logs and Helm releases from a GitOps runtime namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollection(cmd, bufio.NewReader(cmd.InOrStdin()), collectionRequest{
				Command:   "gitops",
				Profile:   collector.ProfileGitOps,
				Namespace: namespace,
			})
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace of the GitOps runtime (prompted when omitted)")
	return cmd
}

// NewPipelinesCommand creates the pipelines runtime command
func NewPipelinesCommand() *cobra.Command {
	var namespace, runtimeName string
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "Collect a support package for a Codefresh Pipelines runtime",
		Long: `Collects cluster resources, volumes, events, pod logs and Helm releases from a Pipelines runtime namespace.
The runtime specification is read from the Codefresh platform and its namespace is used when --namespace is omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipelines(cmd, namespace, runtimeName)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace of the Pipelines runtime")
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "Name of the Pipelines runtime (prompted when omitted)")
	return cmd
}

// NewOnPremCommand creates the on-prem platform command
func NewOnPremCommand() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "onprem",
		Short: "Collect a support package for a Codefresh on-prem installation",
		Long:  "Collects cluster resources from the on-prem platform namespace together with accounts, runtimes, user count and feature flags from the platform API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnPrem(cmd, namespace)
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace of the on-prem installation (prompted when omitted)")
	return cmd
}

// NewOSSCommand creates the open source Argo command
func NewOSSCommand() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "oss",
		Short: "Collect a support package for an open source Argo installation",
		Long:  "Collects cluster resources and Argo custom resources, events, pod logs and Helm releases from an Argo namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollection(cmd, bufio.NewReader(cmd.InOrStdin()), collectionRequest{
				Command:   "oss",
				Profile:   collector.ProfileOSS,
				Namespace: namespace,
			})
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace of the Argo installation (prompted when omitted)")
	return cmd
}

// NewCheckCommand creates the environment check command
func NewCheckCommand() *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Test cluster connectivity, permissions and Codefresh credentials",
		Long:  "Verifies the Kubernetes API is reachable, namespaces can be read, which custom resource definitions are installed and whether Codefresh credentials are configured. Nothing is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := kube.NewClients(cfg.Kubeconfig, cfg.FetchTimeout)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), clients, cfg, namespace, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to check")
	return cmd
}

// NewVersionCommand creates a new version command
func NewVersionCommand() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, build commit and build date, optionally checking for a newer release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), cmd.OutOrStdout(), check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check whether a newer release is available")
	return cmd
}

// NewUpgradeCommand creates the self-upgrade command
func NewUpgradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Check for updates and upgrade to latest version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd.Context(), updater.New(cfg.HTTPTimeout), cmd.OutOrStdout())
		},
	}
}

// runCollection collects with in as the reader for every prompt of the command.
func runCollection(cmd *cobra.Command, in *bufio.Reader, req collectionRequest) error {
	clients, err := kube.NewClients(cfg.Kubeconfig, cfg.FetchTimeout)
	if err != nil {
		return err
	}
	_, err = collect(cmd.Context(), clients, cfg, req, in, cmd.OutOrStdout())
	return err
}

func runPipelines(cmd *cobra.Command, namespace, runtimeName string) error {
	ctx := cmd.Context()
	log := logger.GetLoggerFromContext(ctx)
	in := bufio.NewReader(cmd.InOrStdin())
	req := collectionRequest{
		Command:   "pipelines",
		Profile:   collector.ProfilePipelines,
		Namespace: namespace,
	}

	creds, err := codefresh.ResolveCredentials(cfg.Codefresh.APIKey, cfg.Codefresh.URL, cfg.Codefresh.ConfigPath)
	switch {
	case err == nil:
		client := codefresh.NewClient(creds, cfg.HTTPTimeout)
		spec, err := selectPipelinesRuntime(ctx, client, runtimeName, in, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if req.Namespace == "" {
			req.Namespace = spec.Namespace
		}
		req.Documents = append(req.Documents, document{Name: pipelinesRuntimeSpecFile, Value: spec})
	case errors.Is(err, codefresh.ErrNoCredentials) && namespace != "":
		log.WithError(err).Warn("Collecting without the runtime specification")
	default:
		return fmt.Errorf("resolving Codefresh credentials: %w", err)
	}

	return runCollection(cmd, in, req)
}

// selectPipelinesRuntime fetches the named runtime, or lets the user pick one of
// the account runtimes when no name is given.
func selectPipelinesRuntime(ctx context.Context, client *codefresh.Client, name string, in *bufio.Reader, out io.Writer) (*codefresh.RuntimeSpec, error) {
	if name == "" {
		runtimes, err := client.GetAccountRuntimes(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing Pipelines runtimes: %w", err)
		}
		names := make([]string, 0, len(runtimes))
		for _, rt := range runtimes {
			names = append(names, rt.Name)
		}
		name, err = selectOption(in, out, "Select a Pipelines runtime", names)
		if err != nil {
			return nil, err
		}
	}

	spec, err := client.GetRuntimeSpec(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("getting runtime %s: %w", name, err)
	}
	return spec, nil
}

func runOnPrem(cmd *cobra.Command, namespace string) error {
	creds, err := codefresh.ResolveCredentials(cfg.Codefresh.APIKey, cfg.Codefresh.URL, cfg.Codefresh.ConfigPath)
	if err != nil {
		return fmt.Errorf("resolving Codefresh credentials: %w", err)
	}
	if codefresh.IsSaaS(creds) {
		return fmt.Errorf("the onprem command cannot be used with Codefresh SaaS (%s)", creds.BaseURL)
	}

	client := codefresh.NewClient(creds, cfg.HTTPTimeout)
	return runCollection(cmd, bufio.NewReader(cmd.InOrStdin()), collectionRequest{
		Command:   "onprem",
		Profile:   collector.ProfileOnPrem,
		Namespace: namespace,
		Documents: onPremDocuments(cmd.Context(), client),
	})
}

// onPremDocuments fetches the platform documents. A failed fetch is logged and
// left out of the bundle.
func onPremDocuments(ctx context.Context, client *codefresh.Client) []document {
	log := logger.GetLoggerFromContext(ctx)

	fetches := []struct {
		name  string
		fetch func(context.Context) (any, error)
	}{
		{"onprem-accounts.yaml", func(ctx context.Context) (any, error) { return client.GetAllAccounts(ctx) }},
		{"onprem-runtimes.yaml", func(ctx context.Context) (any, error) { return client.GetAllRuntimes(ctx) }},
		{"onprem-total-users.yaml", func(ctx context.Context) (any, error) { return client.GetTotalUsers(ctx) }},
		{"onprem-feature-flags.yaml", func(ctx context.Context) (any, error) { return client.GetFeatureFlags(ctx) }},
	}

	var docs []document
	for _, f := range fetches {
		value, err := f.fetch(ctx)
		if err != nil {
			log.WithError(err).WithField("document", f.name).Warn("Failed to fetch platform document")
			continue
		}
		docs = append(docs, document{Name: f.name, Value: value})
	}
	return docs
}

// collect runs the profile against the namespace, writes the bundle and
// packages it. It returns the archive path.
func collect(ctx context.Context, clients *kube.Clients, c *config.Config, req collectionRequest, in *bufio.Reader, out io.Writer) (string, error) {
	log := logger.GetLoggerFromContext(ctx)

	fmt.Fprintf(out, "🚀 Starting Codefresh support package collection (%s)...\n", req.Command)

	serverVersion, err := clients.Ping()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "Kubernetes context: %s\n", displayContext(clients.Context))
	fmt.Fprintf(out, "Server version: %s\n", serverVersion.GitVersion)
	fmt.Fprintln(out, "==========================================")

	entries, err := collector.Select(req.Profile)
	if err != nil {
		return "", err
	}

	namespace, err := resolveNamespace(ctx, clients, req.Namespace, in, out)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "✓ Namespace '%s' exists. Starting collection...\n", namespace)

	b, err := bundle.New(c.OutputDir, fmt.Sprintf("cf-support-%s-%d", req.Command, time.Now().Unix()))
	if err != nil {
		return "", err
	}
	b.Describer = kube.NewDescriber(clients.Core, clients.Config)

	logFile, err := logger.TeeToFile(log, b.Path(logger.LogFileName))
	if err != nil {
		log.WithError(err).Warn("Run log will not be included in the support package")
	}
	closeLog := func() {
		if logFile != nil {
			logFile.Close()
			logFile = nil
		}
	}
	defer closeLog()

	log.WithFields(logrus.Fields{
		"runId":     b.RunID,
		"command":   req.Command,
		"profile":   req.Profile,
		"namespace": namespace,
	}).Info("Support package run started")

	for _, doc := range req.Documents {
		if err := b.WriteValue(doc.Name, doc.Value); err != nil {
			log.WithError(err).WithField("document", doc.Name).Warn("Failed to write document")
			continue
		}
		fmt.Fprintf(out, "  ✅ %s saved\n", doc.Name)
	}

	fmt.Fprintf(out, "\n📊 === Collecting %d resource types ===\n", len(entries))
	reg := prometheus.NewRegistry()
	result := collector.New(clients, collector.Options{
		Workers:      c.Workers,
		FetchTimeout: c.FetchTimeout,
		Catalog:      entries,
		Metrics:      collector.NewMetrics(reg),
	}).Collect(ctx, namespace)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("collection interrupted, partial files left in %s: %w", b.Dir, err)
	}

	if err := b.WriteCollection(result); err != nil {
		return "", fmt.Errorf("writing collection: %w", err)
	}
	if err := b.WriteMetadata(bundle.Metadata{
		Command:       req.Command,
		Profile:       string(req.Profile),
		Namespace:     namespace,
		KubeContext:   clients.Context,
		ServerVersion: serverVersion.GitVersion,
	}); err != nil {
		return "", fmt.Errorf("writing metadata: %w", err)
	}
	if err := b.WriteMetrics(reg); err != nil {
		log.WithError(err).Warn("Failed to write run metrics")
	}
	printSummary(out, result.Summarize())

	closeLog()
	fmt.Fprintln(out, "\n📦 === Creating Archive ===")
	archive, err := b.Package()
	if err != nil {
		return "", err
	}

	fmt.Fprintf(out, "\n🎉 Support package created: %s\n", archive)
	return archive, nil
}

// resolveNamespace prompts for a namespace when none is given and checks that
// it exists.
func resolveNamespace(ctx context.Context, clients *kube.Clients, namespace string, in *bufio.Reader, out io.Writer) (string, error) {
	if namespace == "" {
		namespaces, err := clients.ListNamespaces(ctx)
		if err != nil {
			return "", err
		}
		namespace, err = selectOption(in, out, "Select the namespace to collect", namespaces)
		if err != nil {
			return "", err
		}
	}

	exists, err := clients.NamespaceExists(ctx, namespace)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("namespace '%s' does not exist", namespace)
	}
	return namespace, nil
}

func printSummary(out io.Writer, summary collector.Summary) {
	fmt.Fprintf(out, "✅ Collected %d/%d resource types in %s\n", summary.Succeeded, summary.Total, summary.Duration)
	for _, f := range summary.Failures {
		fmt.Fprintf(out, "  ⚠️  %s: %s\n", f.Key, f.Reason)
	}
}

// runCheck prints one line per check. Only an unreachable cluster is an error.
func runCheck(ctx context.Context, clients *kube.Clients, c *config.Config, namespace string, out io.Writer) error {
	fmt.Fprintln(out, "🔍 Testing environment for Codefresh support package collection...")
	fmt.Fprintln(out, "==========================================")

	fmt.Fprintln(out, "\n📡 Cluster connectivity")
	serverVersion, err := clients.Ping()
	if err != nil {
		fmt.Fprintf(out, "  ❌ %v\n", err)
		return err
	}
	fmt.Fprintf(out, "  ✅ Connected to %s (Kubernetes %s)\n", displayContext(clients.Context), serverVersion.GitVersion)

	fmt.Fprintln(out, "\n🔐 Permissions")
	if namespaces, err := clients.ListNamespaces(ctx); err != nil {
		fmt.Fprintf(out, "  ⚠️  Cannot list namespaces: %v\n", err)
	} else {
		fmt.Fprintf(out, "  ✅ %d namespaces visible\n", len(namespaces))
	}
	if namespace != "" {
		exists, err := clients.NamespaceExists(ctx, namespace)
		switch {
		case err != nil:
			fmt.Fprintf(out, "  ⚠️  Cannot read namespace '%s': %v\n", namespace, err)
		case exists:
			fmt.Fprintf(out, "  ✅ Namespace '%s' exists\n", namespace)
		default:
			fmt.Fprintf(out, "  ❌ Namespace '%s' does not exist\n", namespace)
		}
	}

	fmt.Fprintln(out, "\n🧩 Custom resource definitions")
	resolver := collector.NewResolver(clients.Extensions)
	installed := 0
	definitions := 0
	for _, entry := range collector.DefaultCatalog() {
		cr, ok := entry.Strategy.(collector.CustomResourceList)
		if !ok {
			continue
		}
		definitions++
		served, err := resolver.Resolve(ctx, cr.Definition)
		switch {
		case err == nil:
			installed++
			fmt.Fprintf(out, "  ✅ %s (%s)\n", cr.Definition, served.Version)
		case errors.Is(err, collector.ErrNotFound):
			fmt.Fprintf(out, "  ➖ %s not installed\n", cr.Definition)
		default:
			fmt.Fprintf(out, "  ⚠️  %s: %v\n", cr.Definition, err)
		}
	}
	fmt.Fprintf(out, "  %d/%d definitions installed\n", installed, definitions)

	fmt.Fprintln(out, "\n🔑 Codefresh credentials")
	creds, err := codefresh.ResolveCredentials(c.Codefresh.APIKey, c.Codefresh.URL, c.Codefresh.ConfigPath)
	switch {
	case err != nil:
		fmt.Fprintf(out, "  ⚠️  %v\n", err)
	case codefresh.IsSaaS(creds):
		fmt.Fprintf(out, "  ✅ Codefresh SaaS (%s)\n", creds.BaseURL)
	default:
		fmt.Fprintf(out, "  ✅ Codefresh on-prem (%s)\n", creds.BaseURL)
	}

	fmt.Fprintln(out, "\n🎉 Environment check completed")
	return nil
}

func runVersion(ctx context.Context, out io.Writer, check bool) error {
	info := version.Get()
	fmt.Fprintf(out, "cf-support version %s\n", info.Version)
	fmt.Fprintf(out, "Build date: %s\n", info.BuildDate)
	fmt.Fprintf(out, "Git commit: %s\n", info.GitCommit)
	fmt.Fprintf(out, "Go: %s %s\n", info.GoVersion, info.Platform)

	if !check {
		return nil
	}
	release, available, err := updater.New(30*time.Second).CheckVersion(ctx)
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}
	if available {
		fmt.Fprintf(out, "🆕 New version available: %s (run 'cf-support upgrade')\n", release.Version())
	} else {
		fmt.Fprintln(out, "✅ You are running the latest version")
	}
	return nil
}

func runUpgrade(ctx context.Context, u *updater.Updater, out io.Writer) error {
	fmt.Fprintf(out, "Current version: %s\n", version.Get().Version)
	fmt.Fprintln(out, "Checking for updates...")

	release, err := u.Upgrade(ctx)
	if err != nil {
		return err
	}
	if release == nil {
		fmt.Fprintln(out, "✅ You are already running the latest version")
		return nil
	}
	fmt.Fprintf(out, "✅ Successfully upgraded to version %s\n", release.Version())
	return nil
}

func displayContext(name string) string {
	if name == "" {
		return "in-cluster"
	}
	return name
}
