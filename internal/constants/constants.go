package constants

import "time"

// StorageKeys are the roster slots and bookkeeping keys shared by every
// stage. Readers search the slots in a fixed preference order, so the
// names here must stay stable across deployments.
var StorageKeys = struct {
	BasicData           string
	LatestData          string
	IntegratedData      string
	IntegratedBackup    string
	IntegratedPrimary   string
	IntegratedSecondary string
	IntegratedTertiary  string
	DetailedData        string
	DetailProgress      string
	ImageProgress       string
	LoginSession        string
	BasicHash           string
	MainWorkerError     string
	ImageWorkerError    string
	WorkerStatusPrefix  string
	ImagePrefix         string
	RateLimitPrefix     string
}{
	BasicData:           "latest_basic_data",
	LatestData:          "latest_data",
	IntegratedData:      "latest_integrated_data",
	IntegratedBackup:    "latest_integrated_backup",
	IntegratedPrimary:   "latest_integrated_data_primary",
	IntegratedSecondary: "latest_integrated_data_secondary",
	IntegratedTertiary:  "latest_integrated_data_tertiary",
	DetailedData:        "latest_detailed_data",
	DetailProgress:      "detail_processing_progress",
	ImageProgress:       "image_processing_progress",
	LoginSession:        "login_session",
	BasicHash:           "latest_basic_hash",
	MainWorkerError:     "main_worker_error",
	ImageWorkerError:    "image_worker_error",
	WorkerStatusPrefix:  "worker_status_",
	ImagePrefix:         "liver_image:",
	RateLimitPrefix:     "rate_limit:",
}

var SessionConfig = struct {
	TTL             time.Duration
	MinCookieLength int
}{
	TTL:             30 * time.Minute,
	MinCookieLength: 20,
}

var ScrapeConfig = struct {
	MaxPages          int
	FallbackPages     int
	LoginWallBodySize int
	MinValidImageSize int
	RequestTimeout    time.Duration
}{
	MaxPages:          100,
	FallbackPages:     5,
	LoginWallBodySize: 5000,
	MinValidImageSize: 100,
	RequestTimeout:    30 * time.Second,
}

var BatchConfig = struct {
	DetailSliceSize  int
	ImageSliceSize   int
	RequestCap       int
	InvocationBudget time.Duration
	ItemDelay        time.Duration
	PageDelay        time.Duration
}{
	DetailSliceSize:  15,
	ImageSliceSize:   8,
	RequestCap:       40,
	InvocationBudget: 25 * time.Second,
	ItemDelay:        500 * time.Millisecond,
	PageDelay:        time.Second,
}

var IntegrationConfig = struct {
	SlotRetries    int
	SlotRetryDelay time.Duration
}{
	SlotRetries:    3,
	SlotRetryDelay: 2 * time.Second,
}

var RedisConfig = struct {
	ReadyTimeout time.Duration
}{
	ReadyTimeout: 5 * time.Second,
}

var CircuitBreakerConfig = struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	RateLimitTimeout time.Duration
}{
	FailureThreshold: 3,
	ResetTimeout:     30 * time.Second,
	RateLimitTimeout: 1 * time.Hour,
}

var ReviewConfig = struct {
	MinRating        int
	MaxRating        int
	MaxCommentLength int
	RateLimitWindow  time.Duration
}{
	MinRating:        1,
	MaxRating:        5,
	MaxCommentLength: 1000,
	RateLimitWindow:  5 * time.Minute,
}

// Progress status values persisted inside the checkpoint records.
const (
	ProgressIdle       = "idle"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
)

// Worker stage names used in status records and trigger payloads.
const (
	StageBasic   = "basic"
	StageDetails = "details"
	StageImages  = "images"
)
