package cmd

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dreamqin68/tokenizers/api"
	"github.com/dreamqin68/tokenizers/envconfig"
	"github.com/dreamqin68/tokenizers/logutil"
	"github.com/dreamqin68/tokenizers/server"
	"github.com/dreamqin68/tokenizers/tokenizer"
	"github.com/dreamqin68/tokenizers/version"
)

var errNoModel = errors.New("no model: set --model or TOKENIZERS_MODEL")

func loadModel(cmd *cobra.Command) (tokenizer.Tokenizer, error) {
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = envconfig.Model
	}

	if model == "" {
		return nil, errNoModel
	}

	encoding, _ := cmd.Flags().GetString("encoding")
	encoding = cmp.Or(encoding, envconfig.Encoding, tokenizer.DefaultEncoding)

	return tokenizer.Load(model, tokenizer.WithEncoding(encoding))
}

// newBackend uses the model named by --model or TOKENIZERS_MODEL, falling
// back to the server at TOKENIZERS_HOST.
func newBackend(cmd *cobra.Command) (backend, error) {
	tok, err := loadModel(cmd)
	switch {
	case err == nil:
		return localBackend{tok: tok}, nil
	case !errors.Is(err, errNoModel):
		return nil, err
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}

	if err := client.Heartbeat(cmd.Context()); err != nil {
		return nil, fmt.Errorf("%w, or start a server with 'tokenizers serve': %v", errNoModel, err)
	}

	return remoteBackend{client: client}, nil
}

// readText returns args joined by spaces, or all of stdin when there are no
// args.
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	bts, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}

	return string(bts), nil
}

func EncodeHandler(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	allowed, _ := cmd.Flags().GetStringSlice("allow-special")
	all, _ := cmd.Flags().GetBool("all-special")
	bos, _ := cmd.Flags().GetBool("bos")
	eos, _ := cmd.Flags().GetBool("eos")

	b, err := newBackend(cmd)
	if err != nil {
		return err
	}

	resp, err := b.tokenize(cmd.Context(), &api.TokenizeRequest{
		Content:        text,
		AllowedSpecial: allowed,
		AllSpecial:     all,
		AddBOS:         bos,
		AddEOS:         eos,
	})
	if err != nil {
		return err
	}

	ids := make([]string, len(resp.Tokens))
	for i, id := range resp.Tokens {
		ids[i] = strconv.FormatInt(int64(id), 10)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, " "))
	return err
}

func DecodeHandler(cmd *cobra.Command, args []string) error {
	fields := args
	if len(fields) == 0 {
		bts, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}

		fields = strings.Fields(string(bts))
	}

	ids := make([]int32, len(fields))
	for i, field := range fields {
		id, err := strconv.ParseInt(strings.Trim(field, "[],"), 10, 32)
		if err != nil {
			return fmt.Errorf("invalid token id %q", field)
		}

		ids[i] = int32(id)
	}

	b, err := newBackend(cmd)
	if err != nil {
		return err
	}

	return b.detokenize(cmd.Context(), ids, cmd.OutOrStdout())
}

func CountHandler(cmd *cobra.Command, args []string) error {
	r := cmd.InOrStdin()
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	all, _ := cmd.Flags().GetBool("all-special")
	perLine, _ := cmd.Flags().GetBool("per-line")

	b, err := newBackend(cmd)
	if err != nil {
		return err
	}

	resp := &api.CountResponse{}
	if len(lines) > 0 {
		resp, err = b.count(cmd.Context(), &api.CountRequest{Contents: lines, AllSpecial: all})
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if perLine {
		for _, n := range resp.Counts {
			fmt.Fprintln(out, n)
		}
		return nil
	}

	_, err = fmt.Fprintln(out, resp.Count)
	return err
}

func InspectHandler(cmd *cobra.Command, args []string) error {
	b, err := newBackend(cmd)
	if err != nil {
		return err
	}

	resp, err := b.show(cmd.Context())
	if err != nil {
		return err
	}

	ids := func(ids []int32) string {
		s := make([]string, len(ids))
		for i, id := range ids {
			s[i] = strconv.FormatInt(int64(id), 10)
		}
		return strings.Join(s, ", ")
	}

	data := [][]string{
		{"type", resp.Type},
		{"encoding", resp.Encoding},
		{"vocabulary", strconv.Itoa(resp.VocabularySize)},
		{"mergeable", strconv.Itoa(resp.MergeableSize)},
		{"max id", strconv.FormatInt(int64(resp.MaxID), 10)},
		{"merges", strconv.Itoa(resp.Merges)},
		{"special", strconv.Itoa(len(resp.SpecialTokens))},
		{"bos", ids(resp.BOS)},
		{"eos", ids(resp.EOS)},
	}

	for _, pattern := range resp.Patterns {
		data = append(data, []string{"pattern", pattern})
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		for _, s := range resp.SpecialTokens {
			data = append(data, []string{"special token", s})
		}
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"PROPERTY", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

func RunServer(cmd *cobra.Command, _ []string) error {
	tok, err := loadModel(cmd)
	if err != nil {
		return err
	}

	host, err := envconfig.Host()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", host.Host)
	if err != nil {
		return err
	}

	return server.Serve(cmd.Context(), ln, tok)
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tokenizers",
		Short: "Byte-level BPE and tiktoken tokenizer",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel))
		},
	}

	rootCmd.PersistentFlags().StringP("model", "m", "", "Model file or directory")
	rootCmd.PersistentFlags().StringP("encoding", "e", "", fmt.Sprintf("Preset for bare .tiktoken files (%s)", strings.Join(tokenizer.Encodings(), ", ")))

	cobra.EnableCommandSorting = false

	encodeCmd := &cobra.Command{
		Use:   "encode [TEXT]",
		Short: "Encode text to token ids",
		Long:  "Encode text to token ids. Text is read from stdin when no arguments are given.",
		RunE:  EncodeHandler,
	}

	encodeCmd.Flags().StringSlice("allow-special", nil, "Special tokens matched verbatim in the text")
	encodeCmd.Flags().Bool("all-special", false, "Match every special token verbatim")
	encodeCmd.Flags().Bool("bos", false, "Prepend the beginning of sequence token")
	encodeCmd.Flags().Bool("eos", false, "Append the end of sequence token")

	decodeCmd := &cobra.Command{
		Use:   "decode [ID...]",
		Short: "Decode token ids to text",
		Long:  "Decode token ids to text. Ids are read from stdin when no arguments are given.",
		RunE:  DecodeHandler,
	}

	countCmd := &cobra.Command{
		Use:   "count [FILE]",
		Short: "Count tokens, one text per line",
		Args:  cobra.MaximumNArgs(1),
		RunE:  CountHandler,
	}

	countCmd.Flags().Bool("all-special", false, "Match every special token verbatim")
	countCmd.Flags().Bool("per-line", false, "Print the count of each line instead of the total")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show information about a model",
		Args:  cobra.NoArgs,
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().BoolP("verbose", "v", false, "List special tokens")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the tokenizer server",
		Args:    cobra.NoArgs,
		RunE:    RunServer,
	}

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["TOKENIZERS_HOST"], envVars["TOKENIZERS_MODEL"], envVars["TOKENIZERS_ENCODING"], envVars["TOKENIZERS_DEBUG"]}

	for _, cmd := range []*cobra.Command{encodeCmd, decodeCmd, countCmd, inspectCmd} {
		appendEnvDocs(cmd, envs)
	}

	appendEnvDocs(serveCmd, append(envs, envVars["TOKENIZERS_NUM_PARALLEL"], envVars["TOKENIZERS_ORIGINS"]))

	rootCmd.AddCommand(
		serveCmd,
		encodeCmd,
		decodeCmd,
		countCmd,
		inspectCmd,
	)

	return rootCmd
}
