// Package storage wraps github.com/livepeer/go-tools/drivers so the job
// queue's upload processor (and anything else writing finished segments or
// subtitle artifacts out of the local filesystem) gets retrying, metered
// access to S3 and friends without depending on the driver package
// directly.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/go-tools/drivers"

	xerrors "github.com/streamrec/core/errors"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/metrics"
)

var maxRetryInterval = 5 * time.Second

func DownloadOSURL(osURL string) (io.ReadCloser, error) {
	fileInfoReader, err := GetOSURL(osURL, "")
	if err != nil {
		return nil, err
	}
	return fileInfoReader.Body, nil
}

func GetOSURL(osURL, byteRange string) (*drivers.FileInfoReader, error) {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, xerrors.Unretriable(fmt.Errorf("failed to parse OS URL %q: %w", log.RedactURL(osURL), err))
	}

	start := time.Now()

	sess := storageDriver.NewSession("")
	info := sess.GetInfo()
	var host string
	if info != nil && info.S3Info != nil {
		host = info.S3Info.Host
	}
	var fileInfoReader *drivers.FileInfoReader
	if byteRange == "" {
		fileInfoReader, err = sess.ReadData(context.Background(), "")
	} else {
		fileInfoReader, err = sess.ReadDataRange(context.Background(), "", byteRange)
	}

	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(host, "read").Inc()

		if errors.Is(err, drivers.ErrNotExist) {
			return nil, xerrors.NewObjectNotFoundError("not found in OS", err)
		}
		return nil, fmt.Errorf("failed to read from OS URL %q: %w", log.RedactURL(osURL), err)
	}

	duration := time.Since(start)
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(host).Observe(duration.Seconds())

	return fileInfoReader, nil
}

func UploadToOSURL(osURL, filename string, data io.Reader, timeout time.Duration) error {
	return UploadToOSURLFields(osURL, filename, data, timeout, nil)
}

func UploadToOSURLFields(osURL, filename string, data io.Reader, timeout time.Duration, fields *drivers.FileProperties) error {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return fmt.Errorf("failed to parse OS URL %q: %s", log.RedactURL(osURL), err)
	}
	start := time.Now()

	var host string
	sess := storageDriver.NewSession("")
	info := sess.GetInfo()
	if info != nil && info.S3Info != nil {
		host = info.S3Info.Host
	}

	// A failed write is retried only when data can be rewound; a
	// non-seekable reader gets a single attempt.
	seeker, rewindable := data.(io.Seeker)
	err = backoff.Retry(func() error {
		if rewindable {
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return backoff.Permanent(serr)
			}
		}
		_, werr := sess.SaveData(context.Background(), filename, data, fields, timeout)
		if werr != nil && !rewindable {
			return backoff.Permanent(werr)
		}
		return werr
	}, UploadRetryBackoff())

	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(host, "write").Inc()
		return fmt.Errorf("failed to write to OS URL %q: %s", log.RedactURL(filepath.Join(osURL, filename)), err)
	}

	duration := time.Since(start)
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(host).Observe(duration.Seconds())

	return nil
}

func ListOSURL(ctx context.Context, osURL string) (drivers.PageInfo, error) {
	osDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, fmt.Errorf("unexpected error parsing internal driver URL: %w", err)
	}
	os := osDriver.NewSession("")

	page, err := os.ListFiles(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("error listing files: %w", err)
	}

	return page, nil
}

func newExponentialBackOffExecutor() *backoff.ExponentialBackOff {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 200 * time.Millisecond
	backOff.MaxInterval = maxRetryInterval
	backOff.MaxElapsedTime = 0 // the upload job's own RetryConfig governs the overall attempt budget
	backOff.Reset()
	return backOff
}

// UploadRetryBackoff is shared by the upload job processor so repeated
// object-store writes back off the same way regardless of which driver is
// behind the osURL.
func UploadRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(newExponentialBackOffExecutor(), 5)
}
