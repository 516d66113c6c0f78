package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// デフォルト値
const (
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 6000
	DefaultSampleRate = 44100
	DefaultBufferSize = 512
	DefaultPolyphony  = 16
)

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	Host       string        // UDP待ち受けホスト
	Port       int           // UDP待ち受けポート
	SampleRate int           // 出力サンプルレート（Hz）
	BufferSize int           // 出力バッファサイズ（サンプル数）
	Polyphony  int           // 同時発音数の上限
	SoundFont  string        // SoundFont（.sf2）ファイルのパス（省略時は内蔵サイン波シンセ）
	Timeout    time.Duration // タイムアウト時間（0は無制限）
	LogLevel   string        // ログレベル（debug, info, warn, error）
	Headless   bool          // ヘッドレスモード（ノート表示なし）
	ShowHelp   bool          // ヘルプ表示フラグ
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	fs := flag.NewFlagSet("son-net", flag.ContinueOnError)

	config := &Config{}

	var timeoutSec int
	fs.StringVar(&config.Host, "host", DefaultHost, "UDP待ち受けホスト")
	fs.IntVar(&config.Port, "port", DefaultPort, "UDP待ち受けポート")
	fs.IntVar(&config.Port, "p", DefaultPort, "UDP待ち受けポート（短縮形）")
	fs.IntVar(&config.SampleRate, "sample-rate", DefaultSampleRate, "出力サンプルレート（Hz）")
	fs.IntVar(&config.BufferSize, "buffer-size", DefaultBufferSize, "出力バッファサイズ（サンプル数）")
	fs.IntVar(&config.Polyphony, "polyphony", DefaultPolyphony, "同時発音数の上限")
	fs.StringVar(&config.SoundFont, "soundfont", "", "SoundFont（.sf2）ファイルのパス")
	fs.IntVar(&timeoutSec, "timeout", 0, "タイムアウト時間（秒）")
	fs.IntVar(&timeoutSec, "t", 0, "タイムアウト時間（秒）（短縮形）")
	fs.StringVar(&config.LogLevel, "log-level", "info", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&config.LogLevel, "l", "info", "ログレベル（短縮形）")
	fs.BoolVar(&config.Headless, "headless", false, "ヘッドレスモード")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// 環境変数からの設定（コマンドラインフラグが優先）
	if !config.Headless {
		if headlessEnv := os.Getenv("HEADLESS"); headlessEnv != "" {
			config.Headless = headlessEnv == "1" || strings.ToLower(headlessEnv) == "true"
		}
	}

	// 環境変数からタイムアウトを取得（コマンドラインフラグが優先）
	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}

	// 環境変数からログレベルを取得（コマンドラインフラグが優先）
	if config.LogLevel == "info" {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}

	// タイムアウトの検証
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	// ポート番号の検証
	if config.Port < 1 || config.Port > 65535 {
		return nil, fmt.Errorf("port must be in 1-65535, got %d", config.Port)
	}

	// サンプルレートの検証
	if config.SampleRate < 8000 || config.SampleRate > 192000 {
		return nil, fmt.Errorf("sample rate must be in 8000-192000, got %d", config.SampleRate)
	}

	// バッファサイズの検証
	if config.BufferSize < 64 || config.BufferSize > 8192 {
		return nil, fmt.Errorf("buffer size must be in 64-8192, got %d", config.BufferSize)
	}

	// 同時発音数の検証
	if config.Polyphony < 1 || config.Polyphony > 64 {
		return nil, fmt.Errorf("polyphony must be in 1-64, got %d", config.Polyphony)
	}

	// ログレベルの検証
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	return config, nil
}

// BufferPeriod は1回のレンダリング呼び出しがカバーする時間を返す
func (c *Config) BufferPeriod() time.Duration {
	return time.Duration(float64(c.BufferSize) / float64(c.SampleRate) * float64(time.Second))
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp() {
	fmt.Fprintf(os.Stdout, `son-net - UDP MIDI Receiver & Synthesizer

Usage:
  son-net [options]

Options:
  --host <host>               UDP待ち受けホスト（デフォルト: 0.0.0.0）
  -p, --port <port>           UDP待ち受けポート（デフォルト: 6000）
  --sample-rate <hz>          出力サンプルレート（デフォルト: 44100）
  --buffer-size <samples>     出力バッファサイズ（デフォルト: 512）
  --polyphony <n>             同時発音数の上限（デフォルト: 16）
  --soundfont <file.sf2>      SoundFontで合成（省略時は内蔵サイン波シンセ）
  -t, --timeout <seconds>     指定秒数後にプログラムを終了（デフォルト: 無制限）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  --headless                  ヘッドレスモード（ノート表示なし）
  -h, --help                  このヘルプを表示

Environment Variables:
  HEADLESS=1                  ヘッドレスモードを有効化
  TIMEOUT=<seconds>           タイムアウト時間（秒）
  LOG_LEVEL=<level>           ログレベル

Examples:
  son-net                          デフォルト設定で待ち受け
  son-net -p 7000                  ポート7000で待ち受け
  son-net --polyphony 8            同時発音数を8に制限
  son-net --soundfont piano.sf2    SoundFontで合成
  son-net --headless --timeout 30  表示なしで30秒間実行
`)
}
