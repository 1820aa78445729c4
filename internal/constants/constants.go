// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort           = "8000"
	DefaultDBPath         = "stemdeck.db"
	DefaultDownloadsDir   = "/tmp/ytdlp_downloads"
	DefaultStemsCacheDir  = "/tmp/stems_cache"
	DefaultBPMCacheDir    = "/tmp/bpm_cache"
	DefaultUploadsDir     = "/tmp/stemdeck_uploads"
	DefaultMaxDuration    = 1800 * time.Second
	DefaultTaskTimeout    = 300 * time.Second
	DefaultStreamInterval = 1 * time.Second
	DefaultShutdownGrace  = 30 * time.Second

	DefaultFilenameTemplate = "{{.Title}}"
)

// Concurrency gate capacities per job kind
const (
	DefaultConversionSlots = 5
	DefaultSeparationSlots = 2
	DefaultAnalysisSlots   = 2
)

// Reaper
const (
	DefaultReapInterval = 600 * time.Second
	DefaultTaskExpiry   = 3600 * time.Second
	DefaultDiskQuota    = 10 << 30 // 10 GiB
	StagingPrefix       = ".staging-"
)

// Rate limiting
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 60 * time.Second
	RateLimitMemory   = "memory"
	RateLimitRedis    = "redis"
	RedisKeyPrefix    = "stemdeck:ratelimit:"
)

// Upload limits
const (
	MaxSeparationUpload = 500 << 20
	MaxAnalysisUpload   = 100 << 20
)

// Hashing
const (
	HashChunkSize = 8 * 1024
)

// Stems produced by separation, in output order
var StemNames = []string{"vocals", "drums", "bass", "other"}

// Progress checkpoints
const (
	ProgressDownloadCeiling = 70.0
	ProgressTagging         = 95.0
	ProgressDone            = 100.0
	ProgressFailed          = -1.0
)

// Audio
const (
	SampleRate       = 44100
	Channels         = 2
	BitsPerSample    = 16
	SilenceSeconds   = 5
	BeatSmoothWindow = 8
	FallbackMaxConf  = 0.8
)

// Binaries
const (
	DefaultYTDLPBin   = "yt-dlp"
	DefaultFFmpegBin  = "ffmpeg"
	DefaultFFprobeBin = "ffprobe"
	DefaultDemucsBin  = "demucs"
	DefaultDemucsArgs = "htdemucs"
)

// MIME Types
const (
	MimeTypeFLAC = "audio/flac"
	MimeTypeMP3  = "audio/mpeg"
	MimeTypeWAV  = "audio/wav"
	MimeTypeXWAV = "audio/x-wav"
	MimeTypeZIP  = "application/zip"
)

// Database
const (
	CacheEntriesTable = "cache_entries"
)

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtWAV  = ".wav"
	ExtJSON = ".json"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
	PrivatePerms    = 0600
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
