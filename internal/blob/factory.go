package blob

import (
	"context"
	"fmt"
	"os"

	"rollcall/internal/infra/blob/s3"
)

// Open selects a Store implementation using environment variables.
//
//	ROLLCALL_BLOB_DRIVER: fs|s3|memory (default fs)
//	ROLLCALL_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	ROLLCALL_BLOB_S3_*: bucket settings when driver=s3 (see s3.ConfigFromEnv)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("ROLLCALL_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("ROLLCALL_BLOB_FS_ROOT"))
	case DriverS3:
		s, err := s3.OpenFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
