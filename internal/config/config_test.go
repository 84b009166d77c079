package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir 切换到临时目录，避免读取到仓库里的配置文件。
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("获取 cwd 失败：%v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("切换目录失败：%v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(PathEnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Fatalf("期望默认端口 3000，实际 %d", cfg.Server.Port)
	}
	if cfg.Cache.RatingTTL != 24*time.Hour || cfg.Cache.CatalogTTL != 6*time.Hour {
		t.Fatalf("默认 TTL 不符合预期：%+v", cfg.Cache)
	}
	if cfg.Network.AttemptTimeout != 2*time.Second {
		t.Fatalf("期望默认单次超时 2s，实际 %v", cfg.Network.AttemptTimeout)
	}
	if cfg.Cache.Enabled() {
		t.Fatalf("未配置后端时缓存应关闭")
	}
	if len(cfg.Ratings.Providers) != 1 || cfg.Ratings.Providers[0] != "all" {
		t.Fatalf("期望默认 providers=[all]，实际 %v", cfg.Ratings.Providers)
	}
}

func TestLoad_ExplicitPathNotFound(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load("missing.yaml")
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, filepath.Join(dir, "ratingmeta.yaml"), []byte(`
server:
  port: 8080
cache:
  dir: /tmp/ratingmeta-cache
  rating_ttl: 1h
ratings:
  providers: [imdb, metacritic]
`))
	t.Setenv(PathEnvVar, "")
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_PROVIDERS", "imdb, rotten_tomatoes")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("环境变量应覆盖配置文件：期望 9090，实际 %d", cfg.Server.Port)
	}
	if cfg.Cache.Dir != "/tmp/ratingmeta-cache" || cfg.Cache.RatingTTL != time.Hour {
		t.Fatalf("配置文件字段未生效：%+v", cfg.Cache)
	}
	got := cfg.Ratings.Providers
	if len(got) != 2 || got[0] != "imdb" || got[1] != "rotten_tomatoes" {
		t.Fatalf("逗号分隔的 providers 解析不正确：%v", got)
	}
}

func TestLoad_JSONFileViaEnvPath(t *testing.T) {
	dir := t.TempDir()
	chdir(t, t.TempDir())
	p := filepath.Join(dir, "custom.json")
	writeFile(t, p, []byte(`{"cinemeta":{"base_url":"http://127.0.0.1:9/"}}`))
	t.Setenv(PathEnvVar, p)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if cfg.Cinemeta.BaseURL != "http://127.0.0.1:9" {
		t.Fatalf("期望去掉末尾 '/'，实际 %q", cfg.Cinemeta.BaseURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad redis": "cache:\n  redis_url: http://localhost:6379\n",
		"bad port":  "server:\n  port: 70000\n",
		"bad url":   "cinemeta:\n  base_url: ftp://x\n",
		"bad yaml":  "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			chdir(t, dir)
			p := filepath.Join(dir, "c.yaml")
			writeFile(t, p, []byte(body))

			_, err := Load(p)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoad_CatalogConcurrencyClamped(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv(PathEnvVar, "")
	t.Setenv("CATALOG_CONCURRENCY", "100")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if cfg.Catalog.Concurrency != 32 {
		t.Fatalf("期望截断为 32，实际 %d", cfg.Catalog.Concurrency)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写文件失败：%v", err)
	}
}
