package terminal

import (
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/vgstub/vgregs/pkg/config"
)

func configureCmd(t *Term, args string) error {
	fields, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("wrong number of arguments to \"config\"")
	}
	switch fields[0] {
	case "-list":
		return configureList(t)
	case "-save":
		return configureSave(t, fields[1:])
	case "alias":
		return configureSetAlias(t, fields[1:])
	}
	return fmt.Errorf("%q is not a configuration command", fields[0])
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	cfgValue := reflect.ValueOf(t.conf).Elem()
	cfgType := cfgValue.Type()
	for i := 0; i < cfgValue.NumField(); i++ {
		name := cfgType.Field(i).Tag.Get("yaml")
		if comma := strings.Index(name, ","); comma >= 0 {
			name = name[:comma]
		}
		if name == "" {
			continue
		}
		field := cfgValue.Field(i)
		if field.Kind() == reflect.Ptr {
			if !field.IsNil() {
				fmt.Fprintf(w, "%s\t%v\n", name, field.Elem())
			} else {
				fmt.Fprintf(w, "%s\t<not defined>\n", name)
			}
		} else {
			fmt.Fprintf(w, "%s\t%v\n", name, field)
		}
	}
	return w.Flush()
}

func configureSave(t *Term, args []string) error {
	path := t.confPath
	switch len(args) {
	case 0:
		if path == "" {
			var err error
			if path, err = config.DefaultConfigFile(); err != nil {
				return err
			}
		}
	case 1:
		path = args[0]
	default:
		return fmt.Errorf("too many arguments to \"config -save\"")
	}
	if err := config.SaveConfig(t.conf, path); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "configuration saved to %s\n", path)
	return nil
}

func configureSetAlias(t *Term, args []string) error {
	switch len(args) {
	case 1: // delete alias
		for k, v := range t.conf.Aliases {
			for i := range v {
				if v[i] == args[0] {
					t.conf.Aliases[k] = append(v[:i:i], v[i+1:]...)
					break
				}
			}
		}
	case 2:
		alias, cmd := args[1], args[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
