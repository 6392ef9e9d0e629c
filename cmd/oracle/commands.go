package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/oracle/internal/api"
	"github.com/kalambet/oracle/internal/community"
	"github.com/kalambet/oracle/internal/config"
	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/culture"
	"github.com/kalambet/oracle/internal/pipeline"
	"github.com/kalambet/oracle/internal/sovereignty"
	"github.com/kalambet/oracle/internal/storage"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// consentFlag returns nil unless --no-consent was given.
func consentFlag(cmd *cobra.Command) *bool {
	if no, _ := cmd.Flags().GetBool("no-consent"); no {
		f := false
		return &f
	}
	return nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Ask the oracle for guidance",
	Long: `Ask the oracle for guidance.

Examples:
  oracle ask --user ana "I keep sabotaging my work when it starts going well"
  oracle ask --user ana --type story_weaving "My dream of the ocean keeps returning"
  oracle ask --user ana --profile '{"culturalBackground":"celtic"}' "What do the thin places teach?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		queryType, _ := cmd.Flags().GetString("type")
		profile, _ := cmd.Flags().GetString("profile")
		use, _ := cmd.Flags().GetString("use")
		asJSON, _ := cmd.Flags().GetBool("json")

		if user == "" {
			return fmt.Errorf("--user is required")
		}
		req := pipeline.Request{
			UserInput:   strings.Join(args, " "),
			UserID:      user,
			QueryType:   pipeline.QueryType(queryType),
			IntendedUse: use,
			Consent:     consentFlag(cmd),
		}
		if profile != "" {
			if !json.Valid([]byte(profile)) {
				return fmt.Errorf("--profile must be a JSON object")
			}
			req.ProfileHint = json.RawMessage(profile)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var out pipeline.Response
		if err := client.postJSON(commandContext(cmd), "/v1/query", req, &out); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}
		renderResponse(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "", "user identifier (required)")
	askCmd.Flags().String("type", string(pipeline.Comprehensive), "query type: "+queryTypeList())
	askCmd.Flags().String("profile", "", "cultural profile hint as JSON")
	askCmd.Flags().String("use", "", "intended use (default personal_guidance)")
	askCmd.Flags().Bool("no-consent", false, "do not consent to tradition-specific wisdom")
	askCmd.Flags().Bool("json", false, "print the full response as JSON")
}

func queryTypeList() string {
	names := make([]string, len(pipeline.QueryTypes))
	for i, q := range pipeline.QueryTypes {
		names[i] = string(q)
	}
	return strings.Join(names, ", ")
}

func renderResponse(w io.Writer, resp pipeline.Response) {
	fmt.Fprintln(w, resp.ResponseText)
	fmt.Fprintln(w)
	if len(resp.IntegrationOpportunities) > 0 {
		fmt.Fprintln(w, bold("Integration opportunities"))
		for _, o := range resp.IntegrationOpportunities {
			fmt.Fprintf(w, "  • %s\n", o)
		}
	}
	if len(resp.WithheldTraditions) > 0 {
		fmt.Fprintln(w, yellow("Withheld out of respect for: "+strings.Join(resp.WithheldTraditions, ", ")))
	}
	fmt.Fprintf(w, "%s run %s, content %s\n", cyan("·"), resp.RunID, resp.ContentVersion)
}

// --- state ---

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect stored user state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <userId>",
	Short: "Show a user's profile, shadow, purpose and dream state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var st api.UserState
		if err := client.getJSON(commandContext(cmd), "/v1/users/"+url.PathEscape(args[0])+"/state", &st); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var stateRunsCmd = &cobra.Command{
	Use:   "runs <userId>",
	Short: "List a user's recent runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("/v1/users/%s/runs?limit=%d", url.PathEscape(args[0]), limit)
		var runs []api.RunView
		if err := client.getJSON(commandContext(cmd), path, &runs); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return nil
		}
		for _, r := range runs {
			id := r.ID
			if len(id) > 8 {
				id = id[:8]
			}
			line := fmt.Sprintf("%s  %s  %-22s %s", cyan(id), r.CreatedAt.Format("2006-01-02 15:04"), r.QueryType, r.FinalState)
			if len(r.Withheld) > 0 {
				line += yellow("  withheld: " + strings.Join(r.Withheld, ","))
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

func init() {
	stateRunsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRunsCmd)
}

// --- gate ---

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Query the cultural sovereignty gate",
}

var gateCheckCmd = &cobra.Command{
	Use:   "check <tradition>",
	Short: "Check whether a tradition's wisdom may be shared",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requester, _ := cmd.Flags().GetString("requester")
		use, _ := cmd.Flags().GetString("use")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		check := api.SovereigntyCheck{
			Tradition:        args[0],
			RequesterCulture: requester,
			IntendedUse:      use,
			ConsentGiven:     consentFlag(cmd),
		}
		var d sovereignty.Decision
		if err := client.postJSON(commandContext(cmd), "/v1/sovereignty/check", check, &d); err != nil {
			return err
		}
		renderDecision(cmd.OutOrStdout(), d)
		return nil
	},
}

func init() {
	gateCheckCmd.Flags().String("requester", "", "cultural background of the requester")
	gateCheckCmd.Flags().String("use", "", "intended use (default personal_guidance)")
	gateCheckCmd.Flags().Bool("no-consent", false, "evaluate without consent")
	gateCmd.AddCommand(gateCheckCmd)
}

func renderDecision(w io.Writer, d sovereignty.Decision) {
	verdict := green("permitted")
	if !d.Permitted {
		verdict = red("withheld")
	}
	level := d.Level
	if level == "" {
		level = "unregistered"
	}
	fmt.Fprintf(w, "%s %s (%s, risk %s)\n", bold(d.Tradition+":"), verdict, level, d.RiskLevel)
	if d.GuidanceText != "" {
		fmt.Fprintf(w, "  %s\n", d.GuidanceText)
	}
}

// --- share ---

var shareCmd = &cobra.Command{
	Use:   "share <text>",
	Short: "Share wisdom with a community",
	Long: `Share wisdom with a community. The share passes the sovereignty gate
first; permitted shares are queued and published in the background.

Example:
  oracle share --user ana --community healing_circle --tradition buddhist "Attention is the beginning of devotion."`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		comm, _ := cmd.Flags().GetString("community")
		tradition, _ := cmd.Flags().GetString("tradition")
		use, _ := cmd.Flags().GetString("use")

		if user == "" || comm == "" || tradition == "" {
			return fmt.Errorf("--user, --community and --tradition are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		share := community.ShareRequest{
			UserID:      user,
			Community:   comm,
			Tradition:   tradition,
			Content:     strings.Join(args, " "),
			IntendedUse: use,
			Consent:     consentFlag(cmd),
		}
		var res community.ShareResult
		if err := client.postJSON(commandContext(cmd), "/v1/community/share", share, &res); err != nil {
			return err
		}

		if res.Queued {
			printSuccess("Queued share %s for %s", res.ShareID, comm)
			return nil
		}
		printWarning("Share withheld")
		renderDecision(cmd.OutOrStdout(), res.Decision)
		return nil
	},
}

func init() {
	shareCmd.Flags().String("user", "", "sharing user (required)")
	shareCmd.Flags().String("community", "", "community name (required)")
	shareCmd.Flags().String("tradition", "", "tradition the wisdom comes from (required)")
	shareCmd.Flags().String("use", "", "intended use (default personal_guidance)")
	shareCmd.Flags().Bool("no-consent", false, "share without consent (always withheld)")
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage the content table and imported teachings",
}

// TeachingAdder stores imported teachings. Implemented by storage.Store.
type TeachingAdder interface {
	AddTeachings(ctx context.Context, tradition, source string, texts []string) (int, error)
}

// importTeachings extracts teachings from the document at path and stores
// them under tradition, which must be registered in tbl. It returns how
// many teachings were found and how many were new.
func importTeachings(ctx context.Context, store TeachingAdder, tbl *content.Table, path, tradition, source string) (found, added int, err error) {
	key := culture.Normalize(tradition)
	if _, ok := tbl.Traditions[key]; !ok {
		return 0, 0, fmt.Errorf("tradition %q is not in the protocol registry", tradition)
	}
	text, err := content.ReadDocument(path)
	if err != nil {
		return 0, 0, err
	}
	teachings := content.ExtractTeachings(text)
	if len(teachings) == 0 {
		return 0, 0, nil
	}
	if source == "" {
		source = path
	}
	added, err = store.AddTeachings(ctx, key, source, teachings)
	if err != nil {
		return len(teachings), 0, fmt.Errorf("storing teachings: %w", err)
	}
	return len(teachings), added, nil
}

var contentImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import teachings from a text, markdown or PDF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tradition, _ := cmd.Flags().GetString("tradition")
		source, _ := cmd.Flags().GetString("source")
		if tradition == "" {
			return fmt.Errorf("--tradition is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		src, _, err := openContent(cfg)
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		printStep("Reading %s", args[0])
		found, added, err := importTeachings(commandContext(cmd), store, src.Table(), args[0], tradition, source)
		if err != nil {
			return err
		}
		if found == 0 {
			printWarning("No teachings found in %s", args[0])
			return nil
		}
		printSuccess("Imported %d of %d teachings for %s", added, found, culture.Normalize(tradition))
		return nil
	},
}

var contentVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Validate the configured content table and print its version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		src, _, err := openContent(cfg)
		if err != nil {
			return err
		}
		tbl := src.Table()
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, tbl.Version)
		printStatus("Cultures", "%d", len(tbl.CultureNames()))
		printStatus("Traditions", "%d", len(tbl.Traditions))
		printStatus("Shadow complexes", "%d", len(tbl.ComplexNames()))
		return nil
	},
}

func init() {
	contentImportCmd.Flags().String("tradition", "", "tradition the teachings belong to (required)")
	contentImportCmd.Flags().String("source", "", "source label (default: file path)")
	contentCmd.AddCommand(contentImportCmd)
	contentCmd.AddCommand(contentVersionCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", bold(k.Key), k.Value, cyan("("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
