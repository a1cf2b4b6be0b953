package main

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

const zapPath = "go.uber.org/zap"

// Analyzer запрещает завершать процесс вне функции main пакета main:
// panic, os.Exit, log.Fatal* и методы Fatal* логгеров zap.
var Analyzer = &analysis.Analyzer{
	Name: "exitcheck",
	Doc:  "проверяет использование panic, os.Exit, log.Fatal и zap Fatal вне функции main пакета main",
	Run:  run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	isMainPkg := pass.Pkg.Name() == "main"

	for _, file := range pass.Files {
		for _, decl := range file.Decls {
			inMain := false
			if fn, ok := decl.(*ast.FuncDecl); ok {
				inMain = isMainPkg && fn.Recv == nil && fn.Name.Name == "main"
			}
			if inMain {
				continue
			}

			ast.Inspect(decl, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}
				if name, bad := exitCall(pass, call); bad {
					pass.Reportf(call.Pos(), "вызов %s вне функции main пакета main", name)
				}
				return true
			})
		}
	}

	return nil, nil
}

// exitCall сообщает, завершает ли вызов процесс, и возвращает его имя для диагностики.
func exitCall(pass *analysis.Pass, call *ast.CallExpr) (string, bool) {
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		if _, ok := pass.TypesInfo.Uses[fun].(*types.Builtin); ok && fun.Name == "panic" {
			return "panic", true
		}

	case *ast.SelectorExpr:
		name := fun.Sel.Name

		if x, ok := fun.X.(*ast.Ident); ok {
			if pkg, ok := pass.TypesInfo.Uses[x].(*types.PkgName); ok {
				switch pkg.Imported().Path() {
				case "log":
					if isFatalFunc(name) {
						return "log." + name, true
					}
				case "os":
					if name == "Exit" {
						return "os.Exit", true
					}
				}
				return "", false
			}
		}

		if isFatalFunc(name) && isZapLogger(pass.TypesInfo.TypeOf(fun.X)) {
			return "zap " + name, true
		}
	}
	return "", false
}

func isFatalFunc(name string) bool {
	switch name {
	case "Fatal", "Fatalf", "Fatalln", "Fatalw":
		return true
	}
	return false
}

// isZapLogger проверяет, что t - *zap.Logger или *zap.SugaredLogger.
func isZapLogger(t types.Type) bool {
	if t == nil {
		return false
	}
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return false
	}
	if named.Obj().Pkg().Path() != zapPath {
		return false
	}
	switch named.Obj().Name() {
	case "Logger", "SugaredLogger":
		return true
	}
	return false
}
