package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// LocalTransport writes deliveries to disk instead of a workspace. Channel
// IDs starting with 'X' behave like channels the bot was never invited to.
type LocalTransport struct {
	rootDir  string
	channels []domain.Channel
}

func NewLocalTransport(rootDir string, channels []domain.Channel) *LocalTransport {
	cp := make([]domain.Channel, len(channels))
	copy(cp, channels)
	return &LocalTransport{rootDir: rootDir, channels: cp}
}

func (t *LocalTransport) UploadFile(ctx context.Context, channelID string, art domain.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Transient("timeout", err)
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" || strings.ContainsAny(channelID, `/\`) || channelID == "." || channelID == ".." {
		return "", domain.Terminal("invalid_channel", nil)
	}
	if strings.HasPrefix(channelID, "X") {
		return "", domain.Terminal("not_in_channel", nil)
	}
	if len(art.Image) == 0 {
		return "", domain.Terminal("invalid_file", nil)
	}

	dir := filepath.Join(t.rootDir, channelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.Transient("write_failed", err)
	}
	fileID := "F" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	base := fileID + "-" + filepath.Base(art.Filename)
	if err := os.WriteFile(filepath.Join(dir, base), art.Image, 0o644); err != nil {
		return "", domain.Transient("write_failed", err)
	}
	caption := fmt.Sprintf("%s\n\n%s\n", art.Title, art.Caption)
	if err := os.WriteFile(filepath.Join(dir, base+".txt"), []byte(caption), 0o644); err != nil {
		return "", domain.Transient("write_failed", err)
	}
	return fileID, nil
}

func (t *LocalTransport) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("timeout", err)
	}
	out := make([]domain.Channel, len(t.channels))
	copy(out, t.channels)
	return out, nil
}

func (t *LocalTransport) AuthTest(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, domain.Transient("timeout", err)
	}
	info, err := os.Stat(t.rootDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(t.rootDir, 0o755); err != nil {
			return Identity{}, domain.Terminal("output_dir_unavailable", err)
		}
	case err != nil:
		return Identity{}, domain.Terminal("output_dir_unavailable", err)
	case !info.IsDir():
		return Identity{}, domain.Terminal("output_dir_unavailable", fmt.Errorf("%s is not a directory", t.rootDir))
	}
	return Identity{Team: "local", User: "qrbot", BotID: "BLOCAL"}, nil
}
