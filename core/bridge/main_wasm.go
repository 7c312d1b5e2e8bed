//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall/js"

	"github.com/jun/gophsync/core/client"
	"github.com/jun/gophsync/core/sync"
	"github.com/jun/gophsync/internal/model"
)

var engine *sync.Engine

var errNotConnected = errors.New("call gophsync.connect first")

func toJS(v any) js.Value {
	data, err := json.Marshal(v)
	if err != nil {
		return js.Null()
	}
	return js.Global().Get("JSON").Call("parse", string(data))
}

func fromJS(v js.Value, dst any) error {
	raw := js.Global().Get("JSON").Call("stringify", v).String()
	return json.Unmarshal([]byte(raw), dst)
}

// promise runs fn off the event loop and settles a JS Promise with its result.
func promise(fn func() (any, error)) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(toJS(v))
		}()
		return nil
	})
	p := js.Global().Get("Promise").New(executor)
	executor.Release()
	return p
}

// jsTransform calls back into a JS function (items) -> items.
func jsTransform(fn js.Value) sync.Transform {
	return func(items []model.Item) []model.Item {
		var out []model.Item
		if err := fromJS(fn.Invoke(toJS(items)), &out); err != nil {
			return items
		}
		return out
	}
}

func main() {
	api := js.Global().Get("Object").New()

	// format: connect(baseURL, token) -> Promise<instances>
	api.Set("connect", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 2 {
			return js.Null()
		}
		c := client.NewClient(args[0].String())
		c.SetAuthToken(args[1].String())
		return promise(func() (any, error) {
			ctx := context.Background()
			if engine != nil {
				_ = engine.Close()
			}
			e, err := sync.NewEngine(ctx, sync.Options{Remote: c})
			if err != nil {
				return nil, err
			}
			engine = e
			if err := e.Hydrate(ctx); err != nil && !errors.Is(err, sync.ErrTransient) {
				return nil, err
			}
			return e.Registry().Instances(), nil
		})
	}))

	// format: subscribe(callback(event)) -> unsubscribe()
	api.Set("subscribe", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if engine == nil || len(args) != 1 {
			return js.Null()
		}
		cb := args[0]
		cancel := engine.Subscribe(func(ev sync.Event) {
			kind := "state"
			if ev.Kind == sync.EventNotice {
				kind = "notice"
			}
			cb.Invoke(toJS(map[string]any{
				"kind":       kind,
				"instanceId": ev.InstanceID,
				"status":     ev.Status,
				"message":    ev.Message,
			}))
		})
		var unsubscribe js.Func
		unsubscribe = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			cancel()
			unsubscribe.Release()
			return nil
		})
		return unsubscribe
	}))

	// format: switchInstance(id) -> error message or null
	api.Set("switchInstance", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if engine == nil {
			return errNotConnected.Error()
		}
		if len(args) != 1 {
			return "switchInstance(id)"
		}
		if err := engine.SwitchInstance(args[0].String()); err != nil {
			return err.Error()
		}
		return js.Null()
	}))

	// format: setOnline(bool)
	api.Set("setOnline", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if engine != nil && len(args) == 1 {
			engine.SetOnline(args[0].Bool())
		}
		return nil
	}))

	// format: state(id) -> object or null
	api.Set("state", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if engine == nil || len(args) != 1 {
			return js.Null()
		}
		st, ok := engine.State(args[0].String())
		if !ok {
			return js.Null()
		}
		return toJS(map[string]any{
			"id":                  st.ID,
			"status":              st.Status,
			"role":                st.Role,
			"revision":            st.Revision,
			"collections":         st.Collections,
			"pendingLocalChanges": st.PendingLocalChanges,
			"lastError":           st.LastError,
		})
	}))

	// format: mutate(key, transform(items) -> items) -> Promise<items>
	api.Set("mutate", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 2 {
			return js.Null()
		}
		key, fn := args[0].String(), args[1]
		return promise(func() (any, error) {
			if engine == nil {
				return nil, errNotConnected
			}
			k, err := model.ParseCollectionKey(key)
			if err != nil {
				return nil, err
			}
			pw, err := engine.Mutate(context.Background(), k, jsTransform(fn))
			if err != nil {
				return nil, err
			}
			if err := pw.Wait(context.Background()); err != nil {
				return nil, err
			}
			return pw.Items(), nil
		})
	}))

	// format: validateItems(key, items) -> error message or null
	api.Set("validateItems", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 2 {
			return "validateItems(key, items)"
		}
		k, err := model.ParseCollectionKey(args[0].String())
		if err != nil {
			return err.Error()
		}
		var items []model.Item
		if err := fromJS(args[1], &items); err != nil {
			return err.Error()
		}
		if err := model.ValidateItems(k, items); err != nil {
			return err.Error()
		}
		return js.Null()
	}))

	js.Global().Set("gophsync", api)
	fmt.Println("gophsync core wasm initialized")

	select {}
}
