package minio

import "time"

const (
	unknownSize                   int64 = -1
	connectionHealthCheckInterval       = 10 * time.Second
	validateTimeout                     = 10 * time.Second
	defaultSmallFileThreshold     int64 = 1 << 20
	defaultInitialBufferSize            = 4 << 20
)

// Config defines the top-level configuration for MinIO.
type Config struct {
	Connection     ConnectionConfig
	UploadConfig   UploadConfig
	DownloadConfig DownloadConfig
}

// ConnectionConfig contains MinIO server connection details.
type ConnectionConfig struct {
	Endpoint        string // e.g. "localhost:9000"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

// UploadConfig tunes multipart uploads.
type UploadConfig struct {
	MinPartSize uint64 // 0 lets the SDK choose
}

// DownloadConfig tunes how objects are read into memory.
type DownloadConfig struct {
	SmallFileThreshold int64 // objects below this size are read into an exact-size slice
	InitialBufferSize  int   // initial pooled buffer size for larger objects
}

func (c Config) withDefaults() Config {
	if c.DownloadConfig.SmallFileThreshold <= 0 {
		c.DownloadConfig.SmallFileThreshold = defaultSmallFileThreshold
	}
	if c.DownloadConfig.InitialBufferSize <= 0 {
		c.DownloadConfig.InitialBufferSize = defaultInitialBufferSize
	}
	return c
}
