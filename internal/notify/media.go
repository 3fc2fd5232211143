package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "discowatch/pkg/logx"
)

// MediaKind selects the Bot API endpoint a payload is delivered through.
type MediaKind int

const (
	MediaDocument MediaKind = iota
	MediaPhoto
	MediaVideo
	MediaAudio
	MediaVoice
	MediaAnimation
)

const maxMediaBytes = 50 << 20 // Bot API upload ceiling

type mediaFetcher struct {
	http *http.Client
}

func newMediaFetcher() mediaFetcher {
	return mediaFetcher{http: &http.Client{Timeout: 30 * time.Second}}
}

// SendMedia downloads the referenced file and delivers it through the
// endpoint matching its content type. The download is not retried: a
// vanished attachment stays vanished. The upload is posted once.
func (s *Sender) SendMedia(ctx context.Context, mediaURL, caption string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	data, contentType, filename, err := s.media.fetch(ctx, mediaURL)
	if err != nil {
		s.log.Error("media download failed", logx.String("url", mediaURL), logx.Err(err))
		return err
	}

	kind := ClassifyMedia(contentType, filename)
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	file := tele.FromReader(bytes.NewReader(data))
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}

	var what any
	switch kind {
	case MediaPhoto:
		what = &tele.Photo{File: file, Caption: caption}
	case MediaVideo:
		what = &tele.Video{File: file, Caption: caption, FileName: filename, MIME: contentType}
	case MediaAudio:
		what = &tele.Audio{File: file, Caption: caption, FileName: filename, MIME: contentType}
	case MediaVoice:
		what = &tele.Voice{File: file, Caption: caption, MIME: contentType}
	case MediaAnimation:
		what = &tele.Animation{File: file, Caption: caption, FileName: filename, MIME: contentType}
	default:
		what = &tele.Document{File: file, Caption: caption, FileName: filename, MIME: contentType}
	}

	if _, err := s.bot.Send(s.dest, what, opts); err != nil {
		s.log.Error("media send failed", logx.Int("kind", int(kind)), logx.Err(err))
		return err
	}
	return nil
}

func (f mediaFetcher) fetch(ctx context.Context, rawURL string) (data []byte, contentType, filename string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", "", fmt.Errorf("media download: status=%d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", "", err
	}

	contentType = strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename = filenameFromURL(rawURL)
	return data, contentType, filename, nil
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "file"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

// ClassifyMedia picks the delivery channel from the declared content type,
// with the filename extension as the fallback signal.
func ClassifyMedia(contentType, filename string) MediaKind {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(path.Ext(filename))

	switch {
	case strings.Contains(ct, "image/gif") || strings.Contains(ct, "gif") || ext == ".gif":
		return MediaAnimation
	case strings.Contains(ct, "image/") || extIn(ext, ".jpg", ".jpeg", ".png", ".webp"):
		return MediaPhoto
	case strings.Contains(ct, "video/") || extIn(ext, ".mp4", ".mov", ".mkv", ".webm"):
		return MediaVideo
	case strings.Contains(ct, "audio/ogg") || extIn(ext, ".oga", ".ogg"):
		return MediaVoice
	case strings.Contains(ct, "audio/") || extIn(ext, ".mp3", ".m4a", ".aac"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

func extIn(ext string, set ...string) bool {
	for _, s := range set {
		if ext == s {
			return true
		}
	}
	return false
}
