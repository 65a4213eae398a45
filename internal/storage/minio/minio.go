// Package minio — реализация storage.Objects на базе MinIO/S3.
// Конструктор нормализует endpoint, подбирает Secure по схеме
// и проверяет наличие целевого бакета.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pribylovaa/apparel-admin/internal/config"
	"github.com/pribylovaa/apparel-admin/internal/storage"
)

// Objects — адаптер MinIO для изображений сущностей.
type Objects struct {
	client  *mclient.Client
	bucket  string
	baseURL string
}

// New создаёт клиент MinIO и выполняет fail-fast-проверку бакета.
// Публичные URL строятся от S3.PublicBaseURL, а при его отсутствии — от endpoint/bucket.
func New(ctx context.Context, cfg *config.Config) (*Objects, error) {
	const op = "storage/minio/New"

	endpoint := cfg.S3.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	scheme := "http"

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}
	if secure {
		scheme = "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.RootUser, cfg.S3.RootPassword, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.S3.Bucket)
	}

	base := strings.TrimRight(cfg.S3.PublicBaseURL, "/")
	if base == "" {
		base = scheme + "://" + endpoint + "/" + cfg.S3.Bucket
	}

	return &Objects{client: client, bucket: cfg.S3.Bucket, baseURL: base}, nil
}

// PublicURL возвращает публичный URL объекта по ключу.
func (o *Objects) PublicURL(key string) string {
	return o.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// keyFromURL — обратное преобразование PublicURL.
func (o *Objects) keyFromURL(u string) (string, bool) {
	key, ok := strings.CutPrefix(u, o.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Upload кладёт объект и возвращает его публичный URL.
func (o *Objects) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	const op = "storage/minio/Upload"

	key = strings.TrimPrefix(key, "/")

	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(data), int64(len(data)), mclient.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return o.PublicURL(key), nil
}

// Delete удаляет объект; NoSuchKey трактуется как успех.
func (o *Objects) Delete(ctx context.Context, key string) error {
	const op = "storage/minio/Delete"

	err := o.client.RemoveObject(ctx, o.bucket, strings.TrimPrefix(key, "/"), mclient.RemoveObjectOptions{})
	if err != nil && !errors.Is(mapErr(err), storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return nil
}

// List возвращает ключи объектов с префиксом (рекурсивно).
func (o *Objects) List(ctx context.Context, prefix string) ([]string, error) {
	const op = "storage/minio/List"

	var keys []string
	for obj := range o.client.ListObjects(ctx, o.bucket, mclient.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, mapErr(obj.Err))
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// Fetch скачивает объект по публичному URL.
func (o *Objects) Fetch(ctx context.Context, u string) ([]byte, string, error) {
	const op = "storage/minio/Fetch"

	key, ok := o.keyFromURL(u)
	if !ok {
		return nil, "", fmt.Errorf("%s: foreign url: %w", op, storage.ErrNotFound)
	}

	obj, err := o.client.GetObject(ctx, o.bucket, key, mclient.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, mapErr(err))
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, mapErr(err))
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("%s: read: %w", op, mapErr(err))
	}

	return data, info.ContentType, nil
}

// mapErr переводит ошибки клиента MinIO в ошибки контракта storage.
func mapErr(err error) error {
	resp := mclient.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return storage.ErrNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	return err
}

// Проверка выполнения контракта верхнего уровня.
var _ storage.Objects = (*Objects)(nil)
