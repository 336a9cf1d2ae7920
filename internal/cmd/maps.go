package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/mapnimbus/internal/config"
	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/pkg/maps"
	"github.com/3leaps/mapnimbus/pkg/output"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

var (
	mapsLevels     []string
	mapsLevel      string
	mapsMapID      string
	mapsIdentityID string
	mapsOutput     string
	mapsThumbnail  string
	mapsTitle      string
	mapsDesc       string
	mapsPublic     bool
	mapsFull       bool
)

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "List, load, save and share maps",
	Long: `Work with stored maps as the user signed in with 'mapnimbus login'.

Listings and results are written to stdout as JSONL records.`,
}

var mapsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List maps at the configured levels",
	Long: `List maps at every configured level. Levels that need sign-in are
skipped while signed out.

Examples:
  mapnimbus maps list
  mapnimbus maps list --levels public,private`,
	Args: cobra.NoArgs,
	RunE: runMapsList,
}

var mapsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Download a map document",
	Long: `Download a map document and write its JSON to stdout or a file.

Examples:
  mapnimbus maps get --level private --map-id Harbor.json
  mapnimbus maps get --level protected --map-id Harbor.json --identity-id <id> -o harbor.json`,
	Args: cobra.NoArgs,
	RunE: runMapsGet,
}

var mapsPutCmd = &cobra.Command{
	Use:   "put <map.json>",
	Short: "Save a map document",
	Long: `Save a map document with an optional PNG thumbnail. Public maps are
returned as a share URL, private maps as load params.

Examples:
  mapnimbus maps put harbor.json --thumbnail harbor.png
  mapnimbus maps put harbor.json --title Harbor --public`,
	Args: cobra.ExactArgs(1),
	RunE: runMapsPut,
}

var mapsURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the URL that reopens a map",
	Args:  cobra.NoArgs,
	RunE:  runMapsURL,
}

func init() {
	rootCmd.AddCommand(mapsCmd)
	mapsCmd.AddCommand(mapsListCmd, mapsGetCmd, mapsPutCmd, mapsURLCmd)

	mapsListCmd.Flags().StringSliceVar(&mapsLevels, "levels", nil, "levels to list in order (overrides maps.levels)")

	for _, c := range []*cobra.Command{mapsGetCmd, mapsURLCmd} {
		c.Flags().StringVar(&mapsLevel, "level", "", "map level (public, protected, private)")
		c.Flags().StringVar(&mapsMapID, "map-id", "", "map id (object key relative to the level)")
		c.Flags().StringVar(&mapsIdentityID, "identity-id", "", "owner identity for protected maps")
		_ = c.MarkFlagRequired("level")
		_ = c.MarkFlagRequired("map-id")
	}
	mapsGetCmd.Flags().StringVarP(&mapsOutput, "output", "o", "", "write the map to a file instead of stdout")
	mapsURLCmd.Flags().BoolVar(&mapsFull, "full", true, "include the origin")

	mapsPutCmd.Flags().StringVar(&mapsThumbnail, "thumbnail", "", "PNG thumbnail file")
	mapsPutCmd.Flags().StringVar(&mapsTitle, "title", "", "map title (default: map info.title)")
	mapsPutCmd.Flags().StringVar(&mapsDesc, "description", "", "map description (default: map info.description)")
	mapsPutCmd.Flags().BoolVar(&mapsPublic, "public", false, "save publicly and print a share URL")
}

// cliStack assembles the provider for the signed-in CLI user.
func cliStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	opts.identity = sessionFileClient(cfg.Identity)
	opts.logger = observability.CLILogger
	st, err := newStack(ctx, cfg, opts)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to storage provider", err)
	}
	return st, nil
}

func runMapsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var overrides []map[string]any
	if len(mapsLevels) > 0 {
		overrides = append(overrides, map[string]any{"maps": map[string]any{"levels": mapsLevels}})
	}
	cfg, err := loadConfig(ctx, overrides...)
	if err != nil {
		return err
	}
	st, err := cliStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	return listMaps(ctx, st.provider, cfg.Maps.Levels, cmd.OutOrStdout())
}

// listMaps writes one map record per entry followed by a summary.
func listMaps(ctx context.Context, p maps.CloudProvider, levels []string, w io.Writer) error {
	start := time.Now()
	out := output.NewJSONLWriter(w, uuid.NewString(), p.Name())
	defer func() { _ = out.Close() }()

	entries, err := p.ListMaps(ctx)
	if err != nil {
		_ = out.WriteError(ctx, errorRecord(err, ""))
		return exitError(exitCodeFor(err), "Failed to list maps", err)
	}

	summary := &output.SummaryRecord{Levels: levels}
	for i := range entries {
		if err := out.WriteMap(ctx, &entries[i]); err != nil {
			return err
		}
		summary.Maps++
		if entries[i].Error != "" {
			summary.Broken++
		}
	}
	summary.Duration = time.Since(start)
	summary.DurationHuman = summary.Duration.Round(time.Millisecond).String()
	return out.WriteSummary(ctx, summary)
}

func runMapsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lp, err := loadParamsFromFlags()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := cliStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	res, err := st.provider.DownloadMap(ctx, lp)
	if err != nil {
		return exitError(exitCodeFor(err), "Failed to download map", err)
	}

	body := append([]byte(res.Map), '\n')
	if mapsOutput == "" {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	if err := os.WriteFile(mapsOutput, body, 0o644); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write map file", err)
	}
	observability.CLILogger.Info("Map saved to " + mapsOutput)
	return nil
}

func runMapsPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	doc, err := readMapDocument(args[0], mapsThumbnail)
	if err != nil {
		return err
	}
	doc.Title = mapsTitle
	doc.Description = mapsDesc

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := cliStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	return putMap(ctx, st.provider, doc, maps.UploadOptions{IsPublic: mapsPublic}, cmd.OutOrStdout())
}

// putMap uploads doc and writes the share record.
func putMap(ctx context.Context, p maps.CloudProvider, doc maps.MapDocument, opts maps.UploadOptions, w io.Writer) error {
	out := output.NewJSONLWriter(w, uuid.NewString(), p.Name())
	defer func() { _ = out.Close() }()

	res, err := p.UploadMap(ctx, doc, opts)
	if err != nil {
		_ = out.WriteError(ctx, errorRecord(err, doc.Title))
		return exitError(exitCodeFor(err), "Failed to save map", err)
	}
	rec := &output.ShareRecord{URL: res.ShareURL, Title: doc.Title}
	if lp, ok := res.LoadParams(); ok {
		rec.LoadParams = &lp
	}
	return out.WriteShare(ctx, rec)
}

func runMapsURL(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lp, err := loadParamsFromFlags()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := cliStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.store.Close() }()

	userID := ""
	if st.sessions != nil {
		if u, err := sessionFileClient(cfg.Identity)(st.sessions, st.hub).CurrentUserInfo(ctx); err == nil {
			userID = u.ID
		}
	}
	link, err := st.provider.MapURL(lp, userID, mapsFull)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid load params", err)
	}

	out := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), st.provider.Name())
	defer func() { _ = out.Close() }()
	return out.WriteShare(ctx, &output.ShareRecord{URL: link, LoadParams: &lp})
}

func loadParamsFromFlags() (maps.LoadParams, error) {
	level, err := storage.ParseLevel(mapsLevel)
	if err != nil {
		return maps.LoadParams{}, exitError(foundry.ExitInvalidArgument, "Invalid --level", err)
	}
	return maps.LoadParams{Level: level, MapID: mapsMapID, IdentityID: mapsIdentityID}, nil
}

// readMapDocument reads a map file and an optional thumbnail.
func readMapDocument(mapPath, thumbPath string) (maps.MapDocument, error) {
	var doc maps.MapDocument
	body, err := os.ReadFile(mapPath)
	if err != nil {
		return doc, exitError(fileErrorCode(err), "Failed to read map file", err)
	}
	doc.Map = body
	if thumbPath != "" {
		thumb, err := os.ReadFile(thumbPath)
		if err != nil {
			return doc, exitError(fileErrorCode(err), "Failed to read thumbnail", err)
		}
		doc.Thumbnail = thumb
	}
	return doc, nil
}

func fileErrorCode(err error) int {
	if errors.Is(err, os.ErrNotExist) {
		return foundry.ExitFileNotFound
	}
	return foundry.ExitFileReadError
}

// errorRecord converts a provider error to an output record.
func errorRecord(err error, mapID string) *output.ErrorRecord {
	rec := &output.ErrorRecord{Code: output.ErrCodeInternal, Message: err.Error(), MapID: mapID}
	var me *maps.Error
	if errors.As(err, &me) && rec.MapID == "" {
		rec.MapID = me.Key
	}
	switch {
	case errors.Is(err, maps.ErrAuth):
		rec.Code = output.ErrCodeAuth
	case errors.Is(err, maps.ErrNotFound):
		rec.Code = output.ErrCodeNotFound
	case errors.Is(err, maps.ErrParse), errors.Is(err, maps.ErrInvalidMap), errors.Is(err, maps.ErrInvalidLoadParams):
		rec.Code = output.ErrCodeParse
	case errors.Is(err, maps.ErrStorageRead), errors.Is(err, maps.ErrStorageWrite):
		rec.Code = output.ErrCodeStorage
	}
	return rec
}

// exitCodeFor maps provider errors to exit codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, maps.ErrNotFound):
		return foundry.ExitFileNotFound
	case errors.Is(err, maps.ErrParse), errors.Is(err, maps.ErrInvalidMap), errors.Is(err, maps.ErrInvalidLoadParams):
		return foundry.ExitInvalidArgument
	case errors.Is(err, maps.ErrStorageRead):
		return foundry.ExitFileReadError
	case errors.Is(err, maps.ErrStorageWrite):
		return foundry.ExitFileWriteError
	case errors.Is(err, maps.ErrAuth):
		return foundry.ExitExternalServiceUnavailable
	default:
		return exitGeneralFailure
	}
}

// describeUser formats the signed-in user for log lines.
func describeUser(name, id string) string {
	if name == "" {
		return id
	}
	return fmt.Sprintf("%s (%s)", name, id)
}
