package objectstore

import (
	"testing"

	"github.com/chatbridge/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestPublicBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://minio:9000/attachments", PublicBase(config.Minio{Endpoint: "minio:9000", Bucket: "attachments"}))
	assert.Equal(t, "https://s3.example.com/attachments", PublicBase(config.Minio{Endpoint: "s3.example.com", Bucket: "attachments", UseSSL: true}))
	assert.Equal(t, "https://cdn.example.com", PublicBase(config.Minio{PublicURL: "https://cdn.example.com/", Bucket: "attachments"}))
}

func TestObjectURLEscapesSegments(t *testing.T) {
	t.Parallel()

	got := ObjectURL("http://minio:9000/b", "t1/document/2026/10/01/my file.pdf")
	assert.Equal(t, "http://minio:9000/b/t1/document/2026/10/01/my%20file.pdf", got)
}
