package s3

// Config holds the S3-compatible endpoint settings. Endpoint may point at
// AWS, Cloudflare R2 or any S3-compatible server such as MinIO.
type Config struct {
	Endpoint        string // e.g. "https://<account>.r2.cloudflarestorage.com"
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UsePathStyle    bool
	CreateBucket    bool
}

func (c Config) withDefaults() Config {
	if c.Region == "" {
		c.Region = "auto"
	}
	return c
}
