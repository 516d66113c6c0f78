// Package app wires the son-net components together: configuration, logging,
// the UDP receiver, the event bus, the synthesis engine, the audio output
// device, and the note display.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ebitengine/oto/v3"

	"github.com/zurustar/son-net/pkg/bus"
	"github.com/zurustar/son-net/pkg/cli"
	"github.com/zurustar/son-net/pkg/display"
	"github.com/zurustar/son-net/pkg/logger"
	"github.com/zurustar/son-net/pkg/receiver"
	"github.com/zurustar/son-net/pkg/synth"
)

// renderer is the pull contract the audio player drives: fill a PCM buffer
// now, plus a shutdown-time flush of all voices.
type renderer interface {
	io.Reader
	Flush()
}

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config *cli.Config
	log    *slog.Logger
}

// New Applicationを作成
func New() *Application {
	return &Application{}
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	// 1. コマンドライン引数の解析
	config, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	app.config = config

	if app.config.ShowHelp {
		cli.PrintHelp()
		return nil
	}

	// 2. ロガーの初期化
	if err := logger.InitLogger(app.config.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()

	app.log.Info("son-net started",
		"host", app.config.Host, "port", app.config.Port,
		"sample_rate", app.config.SampleRate, "buffer_size", app.config.BufferSize,
		"polyphony", app.config.Polyphony, "buffer_period", app.config.BufferPeriod())

	// 3. イベントバスの作成
	//    オーディオ側と表示側がそれぞれ独立して購読する
	b := bus.New(bus.DefaultCapacity)
	audioSub := b.Subscribe()

	// 4. UDPソケットのバインド（オーディオ初期化前に失敗を検出する）
	recv, err := receiver.New(app.config.Host, app.config.Port, b, logger.For("receiver"))
	if err != nil {
		return fmt.Errorf("failed to start receiver: %w", err)
	}
	defer recv.Close()

	// 5. レンダラの作成（SoundFont指定時はMeltySynth、省略時は内蔵サイン波）
	var rend renderer
	if app.config.SoundFont != "" {
		rend, err = synth.NewSoundFontEngine(audioSub, app.config.SoundFont,
			app.config.SampleRate, app.config.Polyphony, logger.For("synth"))
		if err != nil {
			return fmt.Errorf("failed to create soundfont engine: %w", err)
		}
	} else {
		rend = synth.NewEngine(audioSub, app.config.SampleRate, app.config.Polyphony, logger.For("synth"))
	}

	// 6. オーディオデバイスの取得（プロセスで一度だけ、終了時に解放）
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   app.config.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   app.config.BufferPeriod(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", err)
	}
	<-ready

	player := otoCtx.NewPlayer(rend)
	player.Play()
	app.log.Info("audio output started")

	// 7. 実行コンテキスト（シグナルとタイムアウトで終了）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
	}

	// 8. ネットワークコンテキストの起動
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- recv.Run(ctx)
	}()

	// 9. 表示（ヘッドレスモードでは省略）
	runErr := app.runDisplay(ctx, b)

	// 10. 終了処理：ソケットを閉じてネットワーク側を解除し、
	//     ボイスをフラッシュしてからプレイヤーを閉じる
	stop()
	recv.Close()
	if err := <-recvErr; err != nil {
		app.log.Error("receiver terminated with error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	rend.Flush()
	if err := player.Close(); err != nil {
		app.log.Warn("failed to close audio player", "error", err)
	}

	fragments, events := recv.Stats()
	app.log.Info("son-net terminated", "fragments", fragments, "events", events)
	return runErr
}

// runDisplay ノート表示を実行（ヘッドレスモードではコンテキスト終了まで待機）
func (app *Application) runDisplay(ctx context.Context, b *bus.Bus) error {
	if app.config.Headless {
		app.log.Info("headless mode: note display disabled")
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			app.log.Info("timeout reached, terminating", "timeout", app.config.Timeout)
		}
		return nil
	}

	addr := fmt.Sprintf("%s:%d", app.config.Host, app.config.Port)
	model := display.NewModel(ctx, b.Subscribe(), addr)
	program := tea.NewProgram(model)

	// コンテキスト終了時に表示も終了させる
	go func() {
		<-ctx.Done()
		// 表示側のNextが解除されるまでわずかに待つ
		time.Sleep(50 * time.Millisecond)
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("display terminated with error: %w", err)
	}
	return nil
}
