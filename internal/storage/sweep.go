package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wastebin/wastebin/internal/content"
	"github.com/wastebin/wastebin/internal/metrics"
	"github.com/wastebin/wastebin/internal/token"
)

// staleTempAge 之后残留的临时文件视为崩溃遗留，由清理任务删除。
const staleTempAge = time.Hour

// RunInvalidation 扫描内容目录：删除已过期或已损坏的条目文件，其他读取错误只记录日志并保留文件。
// 单个文件的失败不会中断整次扫描；只有目录本身无法列出时才返回错误。
func (h *Handler) RunInvalidation(ctx context.Context) (SweepReport, error) {
	started := time.Now()
	defer metrics.StorageLatency.WithValues("sweep").UpdateSince(started)

	var report SweepReport
	dirEntries, err := os.ReadDir(h.basePath)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{"action": "sweep"}).Error("sweep_list_failed")
		return report, fmt.Errorf("list storage path: %w", err)
	}

	now := h.now()
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !de.Type().IsRegular() {
			continue
		}
		name := de.Name()
		if strings.HasPrefix(name, tempPrefix) {
			if h.removeStaleTemp(de, now) {
				report.StaleTemp++
			}
			continue
		}
		if !token.ValidKey(name) {
			continue
		}
		report.Scanned++
		h.sweepFile(ctx, name, now, &report)
	}

	h.logger.WithFields(logrus.Fields{
		"action":     "sweep",
		"scanned":    report.Scanned,
		"expired":    report.Expired,
		"corrupt":    report.Corrupt,
		"unreadable": report.Unreadable,
		"stale_temp": report.StaleTemp,
		"duration":   time.Since(started).String(),
	}).Info("sweep_done")
	return report, nil
}

func (h *Handler) sweepFile(ctx context.Context, name string, now time.Time, report *SweepReport) {
	unlock := h.lockEntry(name)
	defer unlock()

	filePath := filepath.Join(h.basePath, name)
	fields := logrus.Fields{"action": "sweep", "key": name}

	entry, found, err := h.LoadMeta(ctx, filePath)
	switch {
	case errors.Is(err, content.ErrCorrupt):
		h.logger.WithFields(fields).Info("sweep_corrupt")
		if h.remove(filePath, fields) {
			report.Corrupt++
			metrics.SweepRemovals.WithValues("corrupt").Inc(1)
		}
	case err != nil:
		h.logger.WithError(err).WithFields(fields).Error("sweep_unreadable")
		report.Unreadable++
	case !found:
	case entry.Expired(now):
		h.logger.WithFields(fields).Info("sweep_expired")
		if h.remove(filePath, fields) {
			report.Expired++
			metrics.SweepRemovals.WithValues("expired").Inc(1)
		}
	}
}

func (h *Handler) remove(filePath string, fields logrus.Fields) bool {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.logger.WithError(err).WithFields(fields).Warn("sweep_remove_failed")
		return false
	}
	return true
}

func (h *Handler) removeStaleTemp(de fs.DirEntry, now time.Time) bool {
	info, err := de.Info()
	if err != nil || now.Sub(info.ModTime()) < staleTempAge {
		return false
	}
	return h.remove(filepath.Join(h.basePath, de.Name()), logrus.Fields{"action": "sweep", "temp": de.Name()})
}
