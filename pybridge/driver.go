package pybridge

import (
	"bytes"
	"fmt"
	"text/template"
)

// Supported object loaders.
const (
	LoaderPickle = "pickle"
	LoaderJoblib = "joblib"
)

type driverFiller struct {
	Loader string
}

// The driver unpickles the object named by argv[1], reports a handshake
// line, then answers one JSON request per stdin line. Anything the object
// prints goes to stderr so stdout stays a clean protocol stream.
const driverTemplateText = `
import json
import platform
import sys

LOADER = "{{.Loader}}"
_out = sys.stdout
sys.stdout = sys.stderr


def _emit(msg):
    _out.write(json.dumps(msg) + "\n")
    _out.flush()


def _fail(rid, exc):
    _emit({"id": rid, "ok": False,
           "error": {"type": type(exc).__name__, "message": str(exc)}})


def _plain(v):
    try:
        import numpy
    except ImportError:
        return v
    if isinstance(v, numpy.ndarray):
        return v.tolist()
    if isinstance(v, numpy.generic):
        return v.item()
    return v


def _encode(v):
    out = {"repr": str(v), "none": v is None}
    if v is None:
        return out
    p = _plain(v)
    try:
        json.dumps(p, allow_nan=False)
    except (TypeError, ValueError):
        return out
    out["value"] = p
    return out


def _arg(a):
    if isinstance(a, dict) and "__frame__" in a:
        f = a["__frame__"]
        try:
            import pandas
            return pandas.DataFrame(f["rows"], columns=f["columns"])
        except ImportError:
            import numpy
            return numpy.asarray(f["rows"], dtype=float)
    return a


def _load(path):
    with open(path, "rb") as fh:
        if LOADER == "joblib":
            import joblib
            return joblib.load(fh)
        import pickle
        return pickle.load(fh)


def _info(obj):
    info = {"python": platform.python_version(),
            "class": type(obj).__name__,
            "module": type(obj).__module__}
    try:
        import sklearn
        info["sklearn"] = sklearn.__version__
    except ImportError:
        pass
    return info


def main():
    try:
        obj = _load(sys.argv[1])
    except BaseException as exc:
        _fail("load", exc)
        return 3
    _emit({"id": "load", "ok": True, "value": _info(obj)})

    for line in sys.stdin:
        line = line.strip()
        if not line:
            continue
        req = json.loads(line)
        rid = req.get("id", "")
        op = req.get("op")
        name = req.get("name", "")
        try:
            if op == "close":
                _emit({"id": rid, "ok": True})
                return 0
            if op == "hasattr":
                res = {"value": hasattr(obj, name)}
            elif op == "getattr":
                res = _encode(getattr(obj, name))
            elif op == "repr":
                res = {"value": str(getattr(obj, name))}
            elif op == "call":
                args = [_arg(a) for a in req.get("args") or []]
                res = _encode(getattr(obj, name)(*args))
            else:
                raise ValueError("unknown op %r" % op)
        except Exception as exc:
            _fail(rid, exc)
            continue
        res["id"] = rid
        res["ok"] = True
        _emit(res)
    return 0


if __name__ == "__main__":
    sys.exit(main())
`

var driverTemplate = template.Must(template.New("driver").Parse(driverTemplateText))

// renderDriver returns the driver program for the given loader.
func renderDriver(loader string) (string, error) {
	switch loader {
	case "":
		loader = LoaderPickle
	case LoaderPickle, LoaderJoblib:
	default:
		return "", fmt.Errorf("pybridge: unknown loader %q", loader)
	}
	var buf bytes.Buffer
	if err := driverTemplate.Execute(&buf, driverFiller{Loader: loader}); err != nil {
		return "", fmt.Errorf("pybridge: render driver: %w", err)
	}
	return buf.String(), nil
}
