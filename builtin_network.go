package minihost

import (
	"context"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/network"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
)

var (
	netURL     = schema.String("url").Req().As(schema.FormatURL).Doc("absolute target url")
	netHeader  = schema.Map("header").Doc("request headers")
	netTimeout = schema.Number("timeout").AtLeast(0).Doc("timeout in milliseconds, 0 uses the default")
)

func millis(p dynamic.Value, key string) time.Duration {
	return time.Duration(number(p, key) * float64(time.Millisecond))
}

func (h *Host) bindNetwork() error {
	client := h.net

	if err := h.Register(registry.Capability{
		Name:        "request",
		Kind:        registry.KindFactory,
		Task:        "RequestTask",
		Description: "Issue an HTTP request.",
		Params: schema.Object(
			netURL,
			schema.Enum("method", network.Methods...).WithDefault("GET"),
			netHeader,
			schema.Any("data"),
			schema.String("dataType").WithDefault("json"),
			schema.Enum("responseType", "text", "arraybuffer").WithDefault("text"),
			netTimeout,
		),
	}, func(ctx context.Context, call *Call) (Result, error) {
		p := call.Params
		rt, err := client.Request(ctx, network.Request{
			URL:          str(p, "url"),
			Method:       str(p, "method"),
			Header:       stringMap(p, "header"),
			Data:         field(p, "data"),
			DataType:     str(p, "dataType"),
			ResponseType: str(p, "responseType"),
			Timeout:      millis(p, "timeout"),
		})
		if err != nil {
			return Result{}, err
		}
		obj := task.NewObject(rt.Handle, h.taskEvents(network.EventHeadersReceived)...)
		return Result{Object: obj, Future: rt.Future()}, nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "downloadFile",
		Kind:        registry.KindFactory,
		Task:        "DownloadTask",
		Description: "Download a resource to a temp file or to filePath.",
		Params: schema.Object(
			netURL,
			netHeader,
			schema.String("filePath").As(schema.FormatPath),
			netTimeout,
		),
	}, func(ctx context.Context, call *Call) (Result, error) {
		p := call.Params
		ft, err := client.DownloadFile(ctx, network.Download{
			URL:      str(p, "url"),
			Header:   stringMap(p, "header"),
			FilePath: str(p, "filePath"),
			Timeout:  millis(p, "timeout"),
		})
		if err != nil {
			return Result{}, err
		}
		obj := task.NewObject(ft.Handle, h.taskEvents(network.EventHeadersReceived, network.EventProgressUpdate)...)
		return Result{Object: obj, Future: ft.Future()}, nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "uploadFile",
		Kind:        registry.KindFactory,
		Task:        "UploadTask",
		Description: "Upload a local file as multipart form data.",
		Params: schema.Object(
			netURL,
			schema.String("filePath").Req().As(schema.FormatPath),
			schema.String("name").Req().NonEmpty(),
			netHeader,
			schema.Map("formData"),
			netTimeout,
		),
	}, func(ctx context.Context, call *Call) (Result, error) {
		p := call.Params
		ft, err := client.UploadFile(ctx, network.Upload{
			URL:      str(p, "url"),
			FilePath: str(p, "filePath"),
			Name:     str(p, "name"),
			Header:   stringMap(p, "header"),
			FormData: stringMap(p, "formData"),
			Timeout:  millis(p, "timeout"),
		})
		if err != nil {
			return Result{}, err
		}
		obj := task.NewObject(ft.Handle, h.taskEvents(network.EventHeadersReceived, network.EventProgressUpdate)...)
		return Result{Object: obj, Future: ft.Future()}, nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "connectSocket",
		Kind:        registry.KindFactory,
		Task:        "SocketTask",
		Description: "Open a WebSocket connection.",
		Params: schema.Object(
			netURL,
			netHeader,
			schema.Array("protocols", schema.String("protocol")),
			netTimeout,
		),
	}, func(ctx context.Context, call *Call) (Result, error) {
		p := call.Params
		var protocols []string
		if items, ok := field(p, "protocols").Items(); ok {
			for _, it := range items {
				if s, ok := it.AsString(); ok {
					protocols = append(protocols, s)
				}
			}
		}
		if !h.supports(socketTaskVersion) {
			// Older hosts keep a single connection.
			h.closeGlobalSocket()
		}
		st, err := client.ConnectSocket(ctx, network.Socket{
			URL:       str(p, "url"),
			Header:    stringMap(p, "header"),
			Protocols: protocols,
			Timeout:   millis(p, "timeout"),
		})
		if err != nil {
			return Result{}, err
		}
		h.trackSocket(st)
		if !h.supports(socketTaskVersion) {
			return Result{Future: st.Future()}, nil
		}
		obj := task.NewObject(st.Handle,
			network.EventOpen, network.EventMessage, network.EventError, network.EventClose)
		obj.Method("send", func(args dynamic.Value) (dynamic.Value, error) {
			return dynamic.EmptyObject(), st.Send(field(args, "data"))
		}).Positional("send", "data")
		obj.Method("close", func(args dynamic.Value) (dynamic.Value, error) {
			return dynamic.EmptyObject(), st.Close(int(number(args, "code")), str(args, "reason"))
		})
		return Result{Object: obj, Future: st.Future()}, nil
	}); err != nil {
		return err
	}

	return h.bindGlobalSocket()
}

// Events of the global socket API, forwarded from the latest socket.
const (
	EventSocketOpen    = "socketOpen"
	EventSocketMessage = "socketMessage"
	EventSocketError   = "socketError"
	EventSocketClose   = "socketClose"
)

var socketForwards = map[string]string{
	network.EventOpen:    EventSocketOpen,
	network.EventMessage: EventSocketMessage,
	network.EventError:   EventSocketError,
	network.EventClose:   EventSocketClose,
}

// trackSocket makes st the target of the global socket API. Events of
// a replaced socket are no longer forwarded.
func (h *Host) trackSocket(st *network.SocketTask) {
	h.mu.Lock()
	h.socket = st
	h.mu.Unlock()
	for from, to := range socketForwards {
		st.On(from, "global", func(v dynamic.Value) {
			if h.globalSocket() == st {
				h.sockEvents.Emit(to, v)
			}
		})
	}
}

func (h *Host) globalSocket() *network.SocketTask {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.socket
}

// closeGlobalSocket closes the latest socket, or abandons it while it is
// still connecting.
func (h *Host) closeGlobalSocket() {
	st := h.globalSocket()
	if st == nil {
		return
	}
	if st.State() == task.Running {
		if err := st.Close(0, ""); err == nil {
			return
		}
	}
	_ = st.Abort()
}

func (h *Host) bindGlobalSocket() error {
	if err := h.Register(registry.Capability{
		Name:        "sendSocketMessage",
		Kind:        registry.KindAsync,
		Description: "Send a message on the latest socket.",
		Params:      schema.Object(schema.OneOf("data", schema.TypeString, schema.TypeBinary).Req()),
	}, func(_ context.Context, call *Call) (Result, error) {
		st := h.globalSocket()
		if st == nil {
			return Result{}, hosterr.State("no socket is connected")
		}
		if err := st.Send(field(call.Params, "data")); err != nil {
			return Result{}, err
		}
		return Value(dynamic.EmptyObject()), nil
	}); err != nil {
		return err
	}

	if err := h.Register(registry.Capability{
		Name:        "closeSocket",
		Kind:        registry.KindAsync,
		Description: "Close the latest socket.",
		Params: schema.Object(
			schema.Number("code").WithDefault(1000),
			schema.String("reason"),
		),
	}, func(_ context.Context, call *Call) (Result, error) {
		st := h.globalSocket()
		if st == nil {
			return Result{}, hosterr.State("no socket is connected")
		}
		if err := st.Close(int(number(call.Params, "code")), str(call.Params, "reason")); err != nil {
			return Result{}, err
		}
		return Value(dynamic.EmptyObject()), nil
	}); err != nil {
		return err
	}

	for _, to := range []string{EventSocketOpen, EventSocketMessage, EventSocketError, EventSocketClose} {
		on, off := task.ListenerMethods(to)
		if err := h.event(on, off, to, h.sockEvents, "Listen for "+to+" on the latest socket."); err != nil {
			return err
		}
	}
	return nil
}
