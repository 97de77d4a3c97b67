package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

// debugMux 组装调试路由：发号/缓存计数走 expvar，性能剖析走 pprof
// pprof 显式注册到自己的 mux，不污染 DefaultServeMux
func debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start 启动调试服务（阻塞）
// 只应监听 localhost 或内网地址，是否启用由调用方决定
func Start(listenAddr string) error {
	s := &http.Server{
		Addr:              listenAddr,
		Handler:           debugMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.ListenAndServe()
}

// StartAsync 启动调试服务（非阻塞），ctx.Done() 时优雅关闭
// 返回运行中的 server，便于调用方观测
func StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              listenAddr,
		Handler:           debugMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// 日志由调用方按需记录，这里不引入 logger 依赖
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}
