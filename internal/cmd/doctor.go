package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/mapnimbus/internal/config"
	apperrors "github.com/3leaps/mapnimbus/internal/errors"
	"github.com/3leaps/mapnimbus/internal/observability"
	"github.com/3leaps/mapnimbus/pkg/storage"
)

// imdsTimeout bounds the instance metadata probe off EC2.
const imdsTimeout = 2 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment, configuration and storage
backend, and suggest fixes for common issues.

Examples:
  mapnimbus doctor
  mapnimbus doctor --config ./mapnimbus.yaml`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorReport numbers and logs check results.
type doctorReport struct {
	logger *zap.Logger
	num    int
	total  int
	ok     bool
}

func (r *doctorReport) pass(check, detail string, fields ...zap.Field) {
	r.num++
	r.logger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", r.num, r.total, check, detail), fields...)
}

func (r *doctorReport) warn(check, detail string, fields ...zap.Field) {
	r.num++
	r.ok = false
	r.logger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", r.num, r.total, check, detail), fields...)
}

func (r *doctorReport) fail(check, detail string, fields ...zap.Field) {
	r.num++
	r.ok = false
	r.logger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", r.num, r.total, check, detail), fields...)
}

func runDoctor(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	bannerName := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		bannerName = id.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	report := &doctorReport{logger: log, total: 7, ok: true}

	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		report.pass("Go version", goVersion, zap.String("go_version", goVersion))
	} else {
		report.warn("Go version", goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
	}

	version := crucible.GetVersion()
	if version.Crucible == "" {
		report.fail("Crucible access", "Cannot access Crucible")
		ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			apperrors.NewExternalServiceError("Crucible service unavailable"))
	}
	report.pass("Crucible access", "v"+version.Crucible, zap.String("crucible_version", version.Crucible))

	if version.Gofulmen != "" {
		report.pass("Gofulmen access", "v"+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
	} else {
		report.fail("Gofulmen access", "Cannot access Gofulmen")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		report.fail("config directory", "Cannot find config directory", zap.Error(err))
		ExitWithCode(log, foundry.ExitFileNotFound, "Cannot find config directory",
			apperrors.WrapInternal(ctx, err, "Cannot find config directory"))
	}
	report.pass("config directory", configDir, zap.String("config_dir", configDir))

	report.pass("environment", runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH))

	cfg, err := loadConfig(ctx)
	if err != nil {
		report.fail("configuration", "Invalid configuration", zap.Error(err))
		report.num++
		finishDoctor(log, bannerName, report.ok)
		return
	}
	report.pass("configuration", "storage provider "+cfg.Storage.Provider,
		zap.String("provider", cfg.Storage.Provider),
		zap.Bool("identity_enabled", cfg.Identity.Enabled()))

	if cfg.Storage.Provider == "s3" {
		report.total += 3
		runS3Checks(ctx, report, cfg.Storage)
	}

	checkStore(ctx, report, cfg)
	finishDoctor(log, bannerName, report.ok)
}

func finishDoctor(log *zap.Logger, bannerName string, ok bool) {
	log.Info("")
	if ok {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

// checkStore lists the public level through the configured backend.
func checkStore(ctx context.Context, report *doctorReport, cfg *config.Config) {
	backend, err := newBackend(ctx, cfg.Storage)
	if err != nil {
		report.fail("map storage", "Cannot open storage backend", zap.Error(err))
		return
	}
	st, err := storage.New(backend, storage.Options{})
	if err != nil {
		report.fail("map storage", "Cannot open storage backend", zap.Error(err))
		return
	}
	defer func() { _ = st.Close() }()

	objects, err := st.List(ctx, "", storage.ListOptions{Level: storage.LevelPublic})
	if err != nil {
		report.fail("map storage", "Cannot list public maps", zap.Error(err))
		return
	}
	report.pass("map storage", fmt.Sprintf("%d public objects", len(objects)),
		zap.Int("public_objects", len(objects)))
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, report *doctorReport, sc config.StorageConfig) {
	report.logger.Info("")
	report.logger.Info("S3 Provider Checks:")

	var loadOpts []func(*awsconfig.LoadOptions) error
	if sc.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(sc.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		report.fail("AWS credentials", "Cannot load AWS config", zap.Error(err))
		printAWSCredentialsHelp()
		report.num += 2
		return
	}

	if sc.AccessKeyID != "" {
		report.pass("AWS credentials", "Static credentials from configuration",
			zap.String("access_key", maskAccessKey(sc.AccessKeyID)))
	} else {
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			report.fail("AWS credentials", "Cannot retrieve credentials", zap.Error(err))
			printAWSCredentialsHelp()
		} else {
			report.pass("AWS credentials", "Found credentials",
				zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
				zap.String("source", creds.Source))
		}
	}

	region := sc.Region
	if region == "" {
		region = awsCfg.Region
	}
	if region != "" {
		report.pass("AWS region", region, zap.String("region", region))
	} else if r, err := instanceRegion(ctx); err == nil {
		report.pass("AWS region", r+" (instance metadata)", zap.String("region", r))
	} else {
		report.warn("AWS region", "No region configured (set storage.region or AWS_REGION)")
	}

	if sc.Endpoint != "" {
		report.pass("S3 endpoint", sc.Endpoint, zap.String("endpoint", sc.Endpoint),
			zap.Bool("force_path_style", sc.ForcePathStyle))
	} else {
		report.pass("S3 endpoint", "AWS default")
	}
}

// instanceRegion asks the EC2 instance metadata service for the region.
func instanceRegion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()
	out, err := imds.New(imds.Options{}).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", err
	}
	return out.Region, nil
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Set storage.profile (MAPNIMBUS_AWS_PROFILE) to a configured profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - storage.endpoint and storage.force_path_style")
	log.Info("")
}
