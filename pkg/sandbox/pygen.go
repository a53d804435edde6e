package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/toolboxlabs/planner/pkg/toolindex"
)

const planFileName = "plan.py"

// Workspace is the ephemeral per-run sandbox root. It holds the
// generated sandbox_py package and the plan script, and is removed at
// task end regardless of outcome.
type Workspace struct {
	Root string
}

// Materialize creates a fresh run root under baseDir (the OS temp dir
// when empty) and generates the sandbox_py package with one wrapper
// module per provider in the index.
func Materialize(baseDir string, index *toolindex.Index) (*Workspace, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox base dir: %w", err)
		}
	}

	root, err := os.MkdirTemp(baseDir, "sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	w := &Workspace{Root: root}
	if err := w.writePackage(index); err != nil {
		_ = w.Remove()
		return nil, err
	}
	return w, nil
}

// WritePlan writes plan.py: a fixed async main whose body is the
// snippet, followed by the sentinel emission. Returns the script path.
func (w *Workspace) WritePlan(snippet string) (string, error) {
	path := filepath.Join(w.Root, planFileName)
	if err := os.WriteFile(path, []byte(renderPlan(snippet)), 0o644); err != nil {
		return "", fmt.Errorf("write plan: %w", err)
	}
	return path, nil
}

// Remove deletes the run root and everything under it.
func (w *Workspace) Remove() error {
	if w == nil || w.Root == "" {
		return nil
	}
	return os.RemoveAll(w.Root)
}

func (w *Workspace) writePackage(index *toolindex.Index) error {
	pkgDir := filepath.Join(w.Root, "sandbox_py")
	serversDir := filepath.Join(pkgDir, "servers")

	byProvider := map[string][]*toolindex.Spec{}
	for _, spec := range index.All() {
		byProvider[spec.Provider] = append(byProvider[spec.Provider], spec)
	}

	files := map[string]string{
		filepath.Join(pkgDir, "__init__.py"):     "",
		filepath.Join(pkgDir, "client.py"):       clientModule,
		filepath.Join(serversDir, "__init__.py"): "",
	}
	for provider, specs := range byProvider {
		files[filepath.Join(serversDir, provider, "__init__.py")] = renderProviderModule(provider, specs)
	}

	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("materialize %s: %w", filepath.Base(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("materialize %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// renderProviderModule emits one async wrapper per tool. Specs arrive in
// tool-id order from the index, keeping output deterministic.
func renderProviderModule(provider string, specs []*toolindex.Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"Generated %s tool wrappers. Rebuilt for every run; do not edit.\"\"\"\n\n", provider)
	b.WriteString("from sandbox_py.client import call_tool\n")

	for _, spec := range specs {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "async def %s:\n", spec.Signature)
		if doc := docstringLine(spec.Description); doc != "" {
			fmt.Fprintf(&b, "    \"\"\"%s\"\"\"\n", doc)
		}
		fmt.Fprintf(&b, "    return call_tool(%q, %q, {%s})\n", provider, spec.Name, argsLiteral(spec.Params))
	}
	return b.String()
}

func argsLiteral(params []toolindex.Param) string {
	pairs := make([]string, 0, len(params))
	for _, p := range params {
		pairs = append(pairs, fmt.Sprintf("%q: %s", p.Name, p.Name))
	}
	return strings.Join(pairs, ", ")
}

// docstringLine reduces a tool description to one safely quotable line.
func docstringLine(desc string) string {
	line := strings.TrimSpace(desc)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" || strings.Contains(line, `"""`) || strings.Contains(line, `\`) {
		return ""
	}
	return line
}

// renderPlan wraps the snippet in the scaffold: an async main owning the
// snippet body and a __main__ block that prints the sentinel line.
func renderPlan(snippet string) string {
	var b strings.Builder
	b.WriteString("import asyncio\nimport json\nimport sys\n\n\n")
	b.WriteString("async def main():\n")

	wroteBody := false
	for _, line := range strings.Split(snippet, "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("    " + line + "\n")
		wroteBody = true
	}
	if !wroteBody {
		b.WriteString("    pass\n")
	}

	b.WriteString("\n\n")
	b.WriteString("if __name__ == \"__main__\":\n")
	b.WriteString("    result = asyncio.run(main())\n")
	b.WriteString("    if result is None:\n")
	b.WriteString("        result = {}\n")
	b.WriteString("    sys.stdout.flush()\n")
	b.WriteString("    print(\"" + Sentinel + "\" + json.dumps(result, default=str))\n")
	return b.String()
}

// clientModule is the generated IPC client. call_tool opens a fresh
// connection per request, exchanges one length-prefixed JSON frame each
// way, and returns the decoded response map.
const clientModule = `"""IPC client for sandboxed plans. Rebuilt for every run; do not edit."""

import json
import os
import socket
import struct


def call_tool(provider, name, args):
    """Invoke a tool through the parent process and return its response map."""
    sock = _connect()
    try:
        request = {
            "run_id": os.environ.get("TB_RUN_ID", ""),
            "token": os.environ.get("TB_RUN_TOKEN", ""),
            "provider": provider,
            "tool": name,
            "args": args or {},
        }
        payload = json.dumps(request).encode("utf-8")
        sock.sendall(struct.pack(">I", len(payload)) + payload)
        size = struct.unpack(">I", _read_exact(sock, 4))[0]
        return json.loads(_read_exact(sock, size).decode("utf-8"))
    finally:
        sock.close()


def _connect():
    addr = os.environ["TB_IPC_ADDR"]
    if os.environ.get("TB_IPC_NET", "unix") == "tcp":
        host, _, port = addr.rpartition(":")
        return socket.create_connection((host, int(port)))
    sock = socket.socket(socket.AF_UNIX, socket.SOCK_STREAM)
    sock.connect(addr)
    return sock


def _read_exact(sock, size):
    buf = b""
    while len(buf) < size:
        chunk = sock.recv(size - len(buf))
        if not chunk:
            raise ConnectionError("IPC stream closed before full frame")
        buf += chunk
    return buf
`
