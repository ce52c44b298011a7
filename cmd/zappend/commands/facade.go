package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/bcdev/zappend/pkg/fsx"
	"github.com/bcdev/zappend/pkg/fsx/s3fs"
	"github.com/bcdev/zappend/pkg/zerrors"
)

// resolveFacade picks the fsx.Facade backend implied by target's scheme,
// mirroring the teacher's per-URI storage backend selection (spec §4.1:
// "each bound to its own per-URI storage options").
func resolveFacade(target string, storageOptions map[string]string) (fsx.Facade, error) {
	switch {
	case strings.HasPrefix(target, "mem://"):
		return fsx.NewMemory(), nil
	case strings.HasPrefix(target, "s3://"):
		bucket, _, _ := strings.Cut(strings.TrimPrefix(target, "s3://"), "/")
		cfg := s3fs.Config{
			Bucket:         bucket,
			Region:         storageOptions["region"],
			Endpoint:       storageOptions["endpoint_url"],
			KeyPrefix:      storageOptions["key_prefix"],
			ForcePathStyle: parseBool(storageOptions["force_path_style"]),
		}
		fac, err := s3fs.NewFromConfig(context.Background(), cfg)
		if err != nil {
			return nil, zerrors.Config("building s3 facade for %q: %s", target, err)
		}
		return fac, nil
	default:
		return fsx.NewLocal(), nil
	}
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
