package network

import (
	"fmt"
	"net/http"

	"github.com/iceymoss/go-taskflow/internal/core"
	"github.com/iceymoss/go-taskflow/internal/tasks"
	"github.com/iceymoss/go-taskflow/pkg/logger"

	"go.uber.org/zap"
)

const Name = "sys:http_ping"

// init 只要这个包被 import，任务就会自动挂载
func init() {
	defaultParams := map[string]any{
		"urls": []any{"https://www.google.com"},
	}
	tasks.RegisterAuto(Name, "@every 1m", NewPingAtoms, defaultParams)
}

// NewPingAtoms 每个 url 一个原子任务，结果写进上下文的 "ping:<url>"
func NewPingAtoms(params map[string]any, opts ...core.AtomOption) ([]*core.AtomTask, error) {
	urls, err := stringList(params["urls"])
	if err != nil {
		return nil, err
	}
	if url, ok := params["url"].(string); ok && url != "" {
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: params.urls is empty", Name)
	}

	client := &http.Client{}
	atoms := make([]*core.AtomTask, 0, len(urls))
	for _, url := range urls {
		key := "ping:" + url
		atoms = append(atoms, core.NewAtomTask(core.AtomInit{
			Exec:       pingExec(client, url, key),
			ProcessMsg: core.Literal("pinging " + url),
			SuccessMsg: core.Template(func(c core.Context) (string, error) {
				code, _ := c.Get(key)
				return fmt.Sprintf("%s answered %v", url, code), nil
			}),
			ErrorMsg: core.Literal(url + " is unreachable"),
		}, opts...))
	}
	return atoms, nil
}

// pingExec 5xx 和网络错误可重试，4xx 直接失败
func pingExec(client *http.Client, url, key string) core.Exec {
	return func(in core.ExecInput) (core.Result, error) {
		logger.Debug("📡 [Ping] pinging", zap.String("url", url), zap.Int("attempt", in.Attempt))

		req, err := http.NewRequestWithContext(in.Ctx, http.MethodHead, url, nil)
		if err != nil {
			in.Abandon(err)
			return core.Result{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return core.Result{}, err
		}
		defer resp.Body.Close()

		in.Data.Set(key, resp.StatusCode)
		switch {
		case resp.StatusCode >= 500:
			return core.Result{}, fmt.Errorf("status code %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return core.Failed(fmt.Sprintf("status code %d", resp.StatusCode)), nil
		case resp.StatusCode >= 300:
			return core.Warning(), nil
		}
		return core.Completed(), nil
	}
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: url %v is not a string", Name, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: params.urls must be a list, got %T", Name, v)
	}
}
