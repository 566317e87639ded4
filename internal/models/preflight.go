package models

// DiskUsage describes the filesystem holding the temp directory.
type DiskUsage struct {
	Path        string
	Total       uint64
	Free        uint64
	UsedPercent float64
	Low         bool // UsedPercent is above the warning threshold
}

// BucketLocation is the parsed form of an s3: repository locator.
type BucketLocation struct {
	Endpoint string // host[:port]
	Secure   bool
	Bucket   string
	Prefix   string
}
