package minihost

import (
	"context"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/fsys"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/registry"
	"github.com/reglet-dev/minihost/schema"
	"github.com/reglet-dev/minihost/task"
)

// fsOp is one FileSystemManager method. The async form reports
// {<result>: value}; the Sync form returns the value itself.
type fsOp struct {
	run    func(p dynamic.Value) (dynamic.Value, error)
	name   string
	result string
	params schema.Schema
}

func (h *Host) fsOps() []fsOp {
	fs := h.fs
	path := func(name string) schema.Field { return schema.String(name).Req().NonEmpty().As(schema.FormatPath) }
	encoding := schema.Enum("encoding", fsys.Encodings...)
	none := func(err error) (dynamic.Value, error) { return dynamic.Null(), err }

	return []fsOp{
		{
			name:   "access",
			params: schema.Object(path("path")),
			run:    func(p dynamic.Value) (dynamic.Value, error) { return none(fs.Access(str(p, "path"))) },
		},
		{
			name:   "stat",
			result: "stats",
			params: schema.Object(path("path"), schema.Boolean("recursive").WithDefault(false)),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				if boolean(p, "recursive") {
					entries, err := fs.StatAll(str(p, "path"))
					if err != nil {
						return dynamic.Null(), err
					}
					return fsys.StatAllValue(entries), nil
				}
				st, err := fs.Stat(str(p, "path"))
				if err != nil {
					return dynamic.Null(), err
				}
				return st.Value(), nil
			},
		},
		{
			name:   "readdir",
			result: "files",
			params: schema.Object(path("dirPath")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				names, err := fs.Readdir(str(p, "dirPath"))
				if err != nil {
					return dynamic.Null(), err
				}
				return dynamic.MustFromGo(names), nil
			},
		},
		{
			name:   "mkdir",
			params: schema.Object(path("dirPath"), schema.Boolean("recursive").WithDefault(false)),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				recursive := boolean(p, "recursive")
				if recursive && !h.supports(recursiveMkdirVersion) {
					return dynamic.Null(), hosterr.New(hosterr.ClassContract, hosterr.CodeUnsupportedOnHostVersion,
						"mkdir recursive requires host version >= %s, running %s", recursiveMkdirVersion, h.hostVersion)
				}
				return none(fs.Mkdir(str(p, "dirPath"), recursive))
			},
		},
		{
			name:   "rmdir",
			params: schema.Object(path("dirPath"), schema.Boolean("recursive").WithDefault(false)),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.Rmdir(str(p, "dirPath"), boolean(p, "recursive")))
			},
		},
		{
			name:   "readFile",
			result: "data",
			params: schema.Object(path("filePath"), encoding),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return fs.ReadFile(str(p, "filePath"), str(p, "encoding"))
			},
		},
		{
			name:   "writeFile",
			params: schema.Object(path("filePath"), schema.OneOf("data", schema.TypeString, schema.TypeBinary).Req(), encoding.WithDefault("utf8")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.WriteFile(str(p, "filePath"), field(p, "data"), str(p, "encoding")))
			},
		},
		{
			name:   "appendFile",
			params: schema.Object(path("filePath"), schema.OneOf("data", schema.TypeString, schema.TypeBinary).Req(), encoding.WithDefault("utf8")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.AppendFile(str(p, "filePath"), field(p, "data"), str(p, "encoding")))
			},
		},
		{
			name:   "unlink",
			params: schema.Object(path("filePath")),
			run:    func(p dynamic.Value) (dynamic.Value, error) { return none(fs.Unlink(str(p, "filePath"))) },
		},
		{
			name:   "rename",
			params: schema.Object(path("oldPath"), path("newPath")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.Rename(str(p, "oldPath"), str(p, "newPath")))
			},
		},
		{
			name:   "copyFile",
			params: schema.Object(path("srcPath"), path("destPath")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.CopyFile(str(p, "srcPath"), str(p, "destPath")))
			},
		},
		{
			name:   "unzip",
			params: schema.Object(path("zipFilePath"), path("targetPath")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.Unzip(str(p, "zipFilePath"), str(p, "targetPath")))
			},
		},
		{
			name:   "saveFile",
			result: "savedFilePath",
			params: schema.Object(path("tempFilePath"), schema.String("filePath").As(schema.FormatPath)),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				saved, err := fs.SaveFile(str(p, "tempFilePath"), str(p, "filePath"))
				return dynamic.String(saved), err
			},
		},
		{
			name:   "getFileInfo",
			params: schema.Object(path("filePath"), schema.Enum("digestAlgorithm", "md5", "sha1").WithDefault("md5")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				info, err := fs.GetFileInfo(str(p, "filePath"), str(p, "digestAlgorithm"))
				if err != nil {
					return dynamic.Null(), err
				}
				return dynamic.FromGo(info)
			},
		},
		{
			name:   "getSavedFileList",
			result: "fileList",
			run: func(dynamic.Value) (dynamic.Value, error) {
				files, err := fs.SavedFiles()
				if err != nil {
					return dynamic.Null(), err
				}
				return fsys.SavedFilesValue(files), nil
			},
		},
		{
			name:   "removeSavedFile",
			params: schema.Object(path("filePath")),
			run: func(p dynamic.Value) (dynamic.Value, error) {
				return none(fs.RemoveSavedFile(str(p, "filePath")))
			},
		},
	}
}

// call validates args and runs op. wrap selects the async response shape.
func (op fsOp) call(args dynamic.Value, wrap bool) (dynamic.Value, error) {
	params, err := schema.Validate(op.params, args)
	if err != nil {
		return dynamic.Null(), err
	}
	v, err := op.run(params)
	if err != nil || !wrap {
		return v, err
	}
	if op.result == "" {
		if v.IsNull() {
			return dynamic.EmptyObject(), nil
		}
		return v, nil
	}
	return dynamic.Object(op.result, v), nil
}

func (h *Host) fileSystemManager(ops []fsOp) *task.Object {
	handle := task.New("FileSystemManager", h.sched, task.WithTable(task.OneShotTable), task.WithLogger(h.logger))
	_ = handle.Complete()
	obj := task.NewObject(handle)
	for _, op := range ops {
		names := make([]string, len(op.params.Fields))
		for i, f := range op.params.Fields {
			names[i] = f.Name
		}
		obj.Method(op.name, func(args dynamic.Value) (dynamic.Value, error) { return op.call(args, true) })
		obj.Method(op.name+"Sync", func(args dynamic.Value) (dynamic.Value, error) { return op.call(args, false) })
		obj.Positional(op.name+"Sync", names...)
	}
	return obj
}

// wxTopLevel lists the file operations also bound as top-level capabilities.
var wxTopLevel = map[string]string{
	"saveFile":         "Move a temp file into the saved-file area.",
	"getSavedFileList": "List saved files.",
	"removeSavedFile":  "Delete a saved file.",
	"getFileInfo":      "Report the size and digest of a file.",
}

func (h *Host) bindFileSystem() error {
	if h.fs == nil {
		return nil
	}
	ops := h.fsOps()
	if err := h.Register(registry.Capability{
		Name:        "getFileSystemManager",
		Kind:        registry.KindFactory,
		Task:        "FileSystemManager",
		Description: "Return the file system manager.",
	}, func(context.Context, *Call) (Result, error) {
		obj := h.fileSystemManager(ops)
		return Result{Value: dynamic.EmptyObject(), Object: obj}, nil
	}); err != nil {
		return err
	}

	for _, op := range ops {
		desc, ok := wxTopLevel[op.name]
		if !ok {
			continue
		}
		if err := h.Register(registry.Capability{
			Name:        op.name,
			Kind:        registry.KindAsync,
			Description: desc,
			Params:      op.params,
		}, func(_ context.Context, call *Call) (Result, error) {
			v, err := op.call(call.Params, true)
			if err != nil {
				return Result{}, err
			}
			return Value(v), nil
		}); err != nil {
			return err
		}
	}
	return nil
}
