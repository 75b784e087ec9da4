// Package s3 provides an S3 object-store filesystem connector.
package s3

import (
	"context"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/base"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

// Client is an S3 filesystem connector
type Client struct {
	*base.Connector

	api    *s3.Client
	bucket string
}

// New constructs an unconnected S3 connector
func New(name string, cfg *config.ServiceConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewServiceConfig("s3")
	}
	bucket, _ := cfg.GetString("bucket")
	if bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 connector requires a bucket option")
	}
	c := &Client{bucket: bucket}
	c.Connector = base.New(name, cfg.Protocol, core.KindFilesystem, cfg)
	c.Bind(&driver{c: c})
	return c, nil
}

// Bucket reports the bucket this connector serves
func (c *Client) Bucket() string { return c.bucket }

// Exists reports whether key is present in the bucket
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "head object failed")
	}
	return true, nil
}

// List returns the object keys under prefix
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: &c.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "list objects failed")
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// Open returns a reader over the object at key. The caller closes it.
func (c *Client) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "object %q not found in bucket %q", key, c.bucket)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "get object failed")
	}
	return out.Body, nil
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}

type driver struct {
	c *Client
}

var _ core.Driver = (*driver)(nil)

func (d *driver) Connect(ctx context.Context) error {
	c := d.c

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region, ok := c.Config().GetString("region"); ok {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	var s3Opts []func(*s3.Options)
	if endpoint, ok := c.Config().GetString("endpoint"); ok {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}
	api := s3.NewFromConfig(awsCfg, s3Opts...)

	// Bucket access doubles as the connection health gate
	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.bucket}); err != nil {
		if strings.Contains(err.Error(), "Forbidden") || strings.Contains(err.Error(), "AccessDenied") {
			return errors.Wrap(err, errors.ErrorTypeAuthentication, "access to bucket denied")
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "bucket not reachable")
	}

	c.api = api
	return nil
}

func (d *driver) Disconnect() error {
	d.c.api = nil
	return nil
}

func (d *driver) IsConnected() bool {
	return d.c.api != nil
}
