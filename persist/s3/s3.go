/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package s3 is a persist.Backend over S3-compatible object storage,
// grounded on storage/persistence-s3.go. The teacher buffers full objects
// and replaces them wholesale on sync because S3 has no append operation;
// this backend keeps that "whole object, atomic replace" shape since a
// segment's files are write-once (a flush or compaction writes a file
// exactly once, never appends to it after publish).
package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/persist"
)

// Factory opens namespaced Backends under a shared bucket/prefix, mirroring
// the teacher's S3Factory.
type Factory struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

func (f *Factory) Open(namespace string) persist.Backend {
	pfx := strings.TrimSuffix(f.Prefix, "/")
	if pfx != "" {
		pfx = pfx + "/" + namespace
	} else {
		pfx = namespace
	}
	return &Backend{factory: f, prefix: pfx}
}

// Backend is a persist.Backend over one bucket+prefix.
type Backend struct {
	factory *Factory
	prefix  string

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func (b *Backend) ensureOpen(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if b.factory.Region != "" {
		opts = append(opts, awsconfig.WithRegion(b.factory.Region))
	}
	if b.factory.AccessKeyID != "" && b.factory.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.factory.AccessKeyID, b.factory.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errs.Wrap(errs.IoError, "loading aws config", err)
	}

	var s3Opts []func(*s3.Options)
	if b.factory.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(b.factory.Endpoint)
		})
	}
	if b.factory.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	b.client = s3.NewFromConfig(cfg, s3Opts...)
	b.opened = true
	return nil
}

func (b *Backend) key(k string) string {
	if b.prefix == "" {
		return k
	}
	return b.prefix + "/" + k
}

func (b *Backend) Put(ctx context.Context, key string, r io.Reader) error {
	if err := b.ensureOpen(ctx); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.Wrap(errs.IoError, "buffering object before upload", err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.factory.Bucket),
		Key:    aws.String(b.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errs.Wrap(errs.IoError, "uploading object", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := b.ensureOpen(ctx); err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.factory.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "fetching object "+key, err)
	}
	return out.Body, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.ensureOpen(ctx); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.factory.Bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return errs.Wrap(errs.IoError, "deleting object", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.ensureOpen(ctx); err != nil {
		return nil, err
	}
	full := b.key(prefix)
	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.factory.Bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "listing objects", err)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			if b.prefix != "" {
				k = strings.TrimPrefix(k, b.prefix+"/")
			}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
