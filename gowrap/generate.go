package gowrap

import (
	"bytes"
	"fmt"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/jary/vm"
)

const (
	arenaPkg  = "github.com/chazu/jary/arena"
	modulePkg = "github.com/chazu/jary/module"
	vmPkg     = "github.com/chazu/jary/vm"
)

// GenerateModule renders the Go source of a plugin exporting ModuleLoad and
// ModuleUnload, which define every function of model.
func GenerateModule(model *PackageModel) (string, error) {
	if len(model.Functions) == 0 {
		return "", fmt.Errorf("%s: no wrappable functions", model.ImportPath)
	}

	f := jen.NewFile("main")
	f.HeaderComment("Code generated by jary wrap. DO NOT EDIT.")
	f.PackageComment(fmt.Sprintf("Command %s is a native rule module wrapping %s. Build it with", model.Module, model.ImportPath))
	f.PackageComment("")
	f.PackageComment(fmt.Sprintf("\tgo build -buildmode=plugin -o %s.so .", model.Module))
	f.ImportName(arenaPkg, "arena")
	f.ImportName(modulePkg, "module")
	f.ImportName(vmPkg, "vm")
	f.ImportName(model.ImportPath, model.Name)

	entries := make([]jen.Code, 0, len(model.Functions))
	for _, fn := range model.Functions {
		params := make([]jen.Code, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = jen.Qual(vmPkg, kindIdent(p.Kind))
		}
		entries = append(entries, jen.Values(
			jen.Lit(fn.RuleName),
			jen.Qual(vmPkg, kindIdent(fn.Result.Kind)),
			jen.Index().Qual(vmPkg, "Kind").Values(params...),
			jen.Id(wrapperName(fn)),
		))
	}
	f.Var().Id("functions").Op("=").Index().Struct(
		jen.Id("name").String(),
		jen.Id("ret").Qual(vmPkg, "Kind"),
		jen.Id("params").Index().Qual(vmPkg, "Kind"),
		jen.Id("fn").Qual(vmPkg, "NativeFunc"),
	).Values(entries...)

	f.Comment("ModuleLoad registers every function of the module.")
	f.Func().Id("ModuleLoad").Params(jen.Id("ctx").Op("*").Qual(modulePkg, "Context")).Int32().Block(
		jen.For(jen.List(jen.Id("_"), jen.Id("f")).Op(":=").Range().Id("functions")).Block(
			jen.If(
				jen.Id("status").Op(":=").Qual(modulePkg, "DefineFunction").Call(
					jen.Id("ctx"), jen.Id("f").Dot("name"), jen.Id("f").Dot("ret"), jen.Id("f").Dot("params"), jen.Id("f").Dot("fn"),
				),
				jen.Id("status").Op("!=").Lit(0),
			).Block(jen.Return(jen.Id("status"))),
		),
		jen.Return(jen.Lit(0)),
	)

	f.Comment("ModuleUnload has nothing to release.")
	f.Func().Id("ModuleUnload").Params(jen.Id("ctx").Op("*").Qual(modulePkg, "Context")).Int32().Block(
		jen.Return(jen.Lit(0)),
	)

	for _, fn := range model.Functions {
		f.Line()
		f.Add(wrapper(model, fn))
	}

	f.Line()
	f.Func().Id("main").Params().Block()

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("rendering %s: %w", model.ImportPath, err)
	}
	return buf.String(), nil
}

func wrapperName(fn FunctionModel) string {
	return "wrap" + fn.Name
}

func kindIdent(k vm.Kind) string {
	switch k {
	case vm.KindString:
		return "KindString"
	case vm.KindBool:
		return "KindBool"
	default:
		return "KindLong"
	}
}

// wrapper renders the NativeFunc adapting fn: it unpacks the arguments,
// calls fn and packs the result.
func wrapper(model *PackageModel, fn FunctionModel) jen.Code {
	fail := jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Lit(0), jen.Err()))

	var body []jen.Code
	args := make([]jen.Code, len(fn.Params))
	for i, p := range fn.Params {
		name := fmt.Sprintf("p%d", i)
		arg := jen.Id("args").Index(jen.Lit(i))
		switch p.Kind {
		case vm.KindString:
			body = append(body,
				jen.List(jen.Id(name), jen.Err()).Op(":=").Qual(vmPkg, "StringAt").Call(jen.Id("heap"), arg.Dot("Offset").Call()),
				fail,
			)
			if p.GoType != "string" {
				args[i] = jen.Id(p.GoType).Call(jen.Id(name))
				continue
			}
		case vm.KindBool:
			body = append(body, jen.Id(name).Op(":=").Add(arg).Dot("Bool").Call())
		default:
			body = append(body, jen.Id(name).Op(":=").Id(p.GoType).Call(arg.Dot("Long").Call()))
		}
		args[i] = jen.Id(name)
	}

	call := jen.Qual(model.ImportPath, fn.Name).Call(args...)
	if fn.ReturnsErr {
		body = append(body, jen.List(jen.Id("r"), jen.Err()).Op(":=").Add(call), fail)
	} else {
		body = append(body, jen.Id("r").Op(":=").Add(call))
	}

	switch fn.Result.Kind {
	case vm.KindString:
		body = append(body,
			jen.List(jen.Id("off"), jen.Err()).Op(":=").Qual(vmPkg, "NewString").Call(jen.Id("heap"), jen.String().Call(jen.Id("r"))),
			fail,
			jen.Return(jen.Qual(vmPkg, "FromOffset").Call(jen.Id("off")), jen.Nil()),
		)
	case vm.KindBool:
		body = append(body, jen.Return(jen.Qual(vmPkg, "FromBool").Call(jen.Id("r")), jen.Nil()))
	default:
		body = append(body, jen.Return(jen.Qual(vmPkg, "FromLong").Call(jen.Int64().Call(jen.Id("r"))), jen.Nil()))
	}

	return jen.Func().Id(wrapperName(fn)).Params(
		jen.Id("heap").Op("*").Qual(arenaPkg, "Heap"),
		jen.Id("args").Index().Qual(vmPkg, "Value"),
	).Params(jen.Qual(vmPkg, "Value"), jen.Error()).Block(body...)
}
