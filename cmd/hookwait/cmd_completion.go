package main

import (
	"flag"
	"fmt"
	"os"
)

func completionCmd() {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookwait completion <bash|zsh|fish>\n\n")
		fmt.Fprintf(os.Stderr, "Generate shell completion scripts.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  # Bash\n")
		fmt.Fprintf(os.Stderr, "  hookwait completion bash > /usr/local/etc/bash_completion.d/hookwait\n")
		fmt.Fprintf(os.Stderr, "  # Zsh\n")
		fmt.Fprintf(os.Stderr, "  hookwait completion zsh > \"${fpath[1]}/_hookwait\"\n")
		fmt.Fprintf(os.Stderr, "  # Fish\n")
		fmt.Fprintf(os.Stderr, "  hookwait completion fish > ~/.config/fish/completions/hookwait.fish\n")
	}

	parse(fs)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: shell name is required (bash, zsh, or fish)\n\n")
		fs.Usage()
		os.Exit(exitErrored)
	}

	switch shell := fs.Arg(0); shell {
	case "bash":
		fmt.Print(generateBashCompletion())
	case "zsh":
		fmt.Print(generateZshCompletion())
	case "fish":
		fmt.Print(generateFishCompletion())
	default:
		fmt.Fprintf(os.Stderr, "Error: unsupported shell %q (use bash, zsh, or fish)\n", shell)
		os.Exit(exitErrored)
	}
}

func generateBashCompletion() string {
	return `# bash completion for hookwait                           -*- shell-script -*-

_hookwait() {
    local cur prev words cword
    _init_completion || return

    local commands="serve run send wait url tests show logs stats clear tail completion version help"

    local common_flags="--config --db --port --base-url --log-level"
    local request_flags="--id --name --curl --url --method --data -H --placeholder --timeout --request-timeout --pre-script --proxy --no-proxy"
    local run_flags="${common_flags} ${request_flags} --script --schema --suite --var --output --verbose --no-server --save-baseline --baseline --threshold"
    local send_flags="${common_flags} ${request_flags} --dry-run --output --verbose"
    local wait_flags="${common_flags} --script --schema --timeout --output --verbose --no-server"
    local url_flags="${common_flags} --copy --json"
    local tests_flags="${common_flags} --status --since --limit --offset --match --output"
    local show_flags="${common_flags} --logs --output"
    local logs_flags="${common_flags} --test --event --level --since --limit --offset --output"
    local stats_flags="${common_flags} --output"
    local clear_flags="${common_flags} --force"
    local tail_flags="--config --server --test --event --json"

    local output_formats="text json junit"
    local statuses="pending completed timeout"
    local events="created request-sent response-received callback-received completed timed-out errored"
    local levels="debug info warn error"
    local shells="bash zsh fish"

    if [[ ${cword} -eq 1 ]]; then
        COMPREPLY=($(compgen -W "${commands}" -- "${cur}"))
        return
    fi

    local command="${words[1]}"

    case "${prev}" in
        --output)
            COMPREPLY=($(compgen -W "${output_formats}" -- "${cur}"))
            return
            ;;
        --status)
            COMPREPLY=($(compgen -W "${statuses}" -- "${cur}"))
            return
            ;;
        --event)
            COMPREPLY=($(compgen -W "${events}" -- "${cur}"))
            return
            ;;
        --level|--log-level)
            COMPREPLY=($(compgen -W "${levels}" -- "${cur}"))
            return
            ;;
        --config|--db|--script|--schema|--pre-script|--suite|--save-baseline|--baseline)
            _filedir
            return
            ;;
        --id|--name|--curl|--url|--method|--data|-H|--placeholder|--timeout|--request-timeout|--proxy|--no-proxy|--var|--port|--base-url|--since|--limit|--offset|--match|--test|--server|--threshold)
            return
            ;;
    esac

    if [[ "${cur}" == -* ]]; then
        local flags_var="${command}_flags"
        COMPREPLY=($(compgen -W "${!flags_var}" -- "${cur}"))
        return
    fi

    case "${command}" in
        serve)
            COMPREPLY=($(compgen -W "${common_flags}" -- "${cur}"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "${shells}" -- "${cur}"))
            ;;
    esac
}

complete -F _hookwait hookwait
`
}

func generateZshCompletion() string {
	return `#compdef hookwait

# zsh completion for hookwait

_hookwait() {
    local -a commands common request
    commands=(
        'serve:Run the callback server and query API'
        'run:Send a request and wait for its webhook'
        'send:Send a request without waiting'
        'wait:Wait for a webhook on an existing or new test id'
        'url:Print the webhook URL for a test id'
        'tests:List recorded tests'
        'show:Show one test with its event log'
        'logs:List event log entries'
        'stats:Print aggregate statistics'
        'clear:Delete every recorded test'
        'tail:Follow the live event feed of a running server'
        'completion:Generate shell completion scripts'
        'version:Print version information'
        'help:Show help message'
    )
    common=(
        '--config[Path to config file]:file:_files'
        '--db[SQLite database path]:file:_files'
        '--port[Callback server port]:port:'
        '--base-url[Public base URL for webhook URLs]:url:'
        '--log-level[Log level]:level:(debug info warn error)'
    )
    request=(
        '--id[Test id]:test id:'
        '--name[Display name]:name:'
        '--curl[curl command describing the request]:command:'
        '--url[Request URL]:url:'
        '--method[HTTP method]:method:(GET POST PUT PATCH DELETE)'
        '--data[Request body]:body:'
        '*-H[Request header]:header:'
        '--placeholder[Placeholder replaced by the webhook URL]:placeholder:'
        '--timeout[How long to wait for the webhook]:duration:'
        '--request-timeout[Timeout for the outbound request]:duration:'
        '--pre-script[JavaScript file that may rewrite the request]:file:_files -g "*.js"'
        '--proxy[Proxy URL]:url:'
        '--no-proxy[Hosts that bypass the proxy]:hosts:'
    )

    _arguments -C \
        '1:command:->command' \
        '*::arg:->args'

    case $state in
        command)
            _describe -t commands 'hookwait commands' commands
            ;;
        args)
            case $words[1] in
                serve)
                    _arguments $common
                    ;;
                run)
                    _arguments $common $request \
                        '--script[JavaScript assertions on the payload]:file:_files -g "*.js"' \
                        '--schema[JSON Schema for the payload]:file:_files -g "*.json"' \
                        '--suite[YAML suite of chained tests]:file:_files -g "*.y(a|)ml"' \
                        '*--var[Suite variable key=value]:variable:' \
                        '--output[Output format]:format:(text json junit)' \
                        '--verbose[Show webhook URLs, script logs and payloads]' \
                        '--no-server[Do not start the embedded callback server]' \
                        '--save-baseline[Save callback latencies as a baseline]:file:_files' \
                        '--baseline[Compare callback latencies against a baseline]:file:_files' \
                        '--threshold[Regression threshold percentage]:threshold:'
                    ;;
                send)
                    _arguments $common $request \
                        '--dry-run[Print the resolved request as curl]' \
                        '--output[Output format]:format:(text json)' \
                        '--verbose[Show response headers]'
                    ;;
                wait)
                    _arguments $common \
                        '--script[JavaScript assertions on the payload]:file:_files -g "*.js"' \
                        '--schema[JSON Schema for the payload]:file:_files -g "*.json"' \
                        '--timeout[How long to wait]:duration:' \
                        '--output[Output format]:format:(text json junit)' \
                        '--verbose[Show the webhook payload]' \
                        '--no-server[Do not start the embedded callback server]' \
                        '1:test id:'
                    ;;
                url)
                    _arguments $common \
                        '--copy[Copy the URL to the clipboard]' \
                        '--json[Print as JSON]' \
                        '1:test id:'
                    ;;
                tests)
                    _arguments $common \
                        '--status[Filter by status]:status:(pending completed timeout)' \
                        '--since[Only tests created within this window]:duration:' \
                        '--limit[Maximum number of tests]:limit:' \
                        '--offset[Skip this many tests]:offset:' \
                        '--match[Fuzzy-match test ids and requests]:pattern:' \
                        '--output[Output format]:format:(text json)'
                    ;;
                show)
                    _arguments $common \
                        '--logs[Include the event log]' \
                        '--output[Output format]:format:(text json)' \
                        '1:test id:'
                    ;;
                logs)
                    _arguments $common \
                        '--test[Only entries of this test id]:test id:' \
                        '--event[Only this event type]:event:(created request-sent response-received callback-received completed timed-out errored)' \
                        '--level[Only this level]:level:(debug info warn error)' \
                        '--since[Only entries within this window]:duration:' \
                        '--limit[Maximum number of entries]:limit:' \
                        '--offset[Skip this many entries]:offset:' \
                        '--output[Output format]:format:(text json)'
                    ;;
                stats)
                    _arguments $common \
                        '--output[Output format]:format:(text json)'
                    ;;
                clear)
                    _arguments $common \
                        '--force[Confirm deleting every test]'
                    ;;
                tail)
                    _arguments \
                        '--config[Path to config file]:file:_files' \
                        '--server[Server base URL]:url:' \
                        '--test[Only follow this test id]:test id:' \
                        '--event[Only print this event type]:event:(created request-sent response-received callback-received completed timed-out errored)' \
                        '--json[Print entries as JSON lines]'
                    ;;
                completion)
                    _arguments \
                        '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_hookwait "$@"
`
}

func generateFishCompletion() string {
	return `# fish completion for hookwait

# Disable file completions by default
complete -c hookwait -f

# Subcommands
complete -c hookwait -n '__fish_use_subcommand' -a serve -d 'Run the callback server and query API'
complete -c hookwait -n '__fish_use_subcommand' -a run -d 'Send a request and wait for its webhook'
complete -c hookwait -n '__fish_use_subcommand' -a send -d 'Send a request without waiting'
complete -c hookwait -n '__fish_use_subcommand' -a wait -d 'Wait for a webhook on an existing or new test id'
complete -c hookwait -n '__fish_use_subcommand' -a url -d 'Print the webhook URL for a test id'
complete -c hookwait -n '__fish_use_subcommand' -a tests -d 'List recorded tests'
complete -c hookwait -n '__fish_use_subcommand' -a show -d 'Show one test with its event log'
complete -c hookwait -n '__fish_use_subcommand' -a logs -d 'List event log entries'
complete -c hookwait -n '__fish_use_subcommand' -a stats -d 'Print aggregate statistics'
complete -c hookwait -n '__fish_use_subcommand' -a clear -d 'Delete every recorded test'
complete -c hookwait -n '__fish_use_subcommand' -a tail -d 'Follow the live event feed of a running server'
complete -c hookwait -n '__fish_use_subcommand' -a completion -d 'Generate shell completion scripts'
complete -c hookwait -n '__fish_use_subcommand' -a version -d 'Print version information'
complete -c hookwait -n '__fish_use_subcommand' -a help -d 'Show help message'

# common flags
set -l store_cmds serve run send wait url tests show logs stats clear
complete -c hookwait -n "__fish_seen_subcommand_from $store_cmds" -l config -d 'Path to config file' -rF
complete -c hookwait -n "__fish_seen_subcommand_from $store_cmds" -l db -d 'SQLite database path' -rF
complete -c hookwait -n "__fish_seen_subcommand_from $store_cmds" -l port -d 'Callback server port' -r
complete -c hookwait -n "__fish_seen_subcommand_from $store_cmds" -l base-url -d 'Public base URL for webhook URLs' -r
complete -c hookwait -n "__fish_seen_subcommand_from $store_cmds" -l log-level -d 'Log level' -ra 'debug info warn error'

# request flags
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l id -d 'Test id' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l name -d 'Display name' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l curl -d 'curl command describing the request' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l url -d 'Request URL' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l method -d 'HTTP method' -ra 'GET POST PUT PATCH DELETE'
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l data -d 'Request body' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -s H -d 'Request header' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l placeholder -d 'Placeholder replaced by the webhook URL' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send wait' -l timeout -d 'How long to wait for the webhook' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l request-timeout -d 'Timeout for the outbound request' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l pre-script -d 'JavaScript file that may rewrite the request' -rF
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l proxy -d 'Proxy URL' -r
complete -c hookwait -n '__fish_seen_subcommand_from run send' -l no-proxy -d 'Hosts that bypass the proxy' -r

# run and wait flags
complete -c hookwait -n '__fish_seen_subcommand_from run wait' -l script -d 'JavaScript assertions on the payload' -rF
complete -c hookwait -n '__fish_seen_subcommand_from run wait' -l schema -d 'JSON Schema for the payload' -rF
complete -c hookwait -n '__fish_seen_subcommand_from run wait' -l output -d 'Output format' -ra 'text json junit'
complete -c hookwait -n '__fish_seen_subcommand_from run send wait' -l verbose -d 'Show more detail'
complete -c hookwait -n '__fish_seen_subcommand_from run wait' -l no-server -d 'Do not start the embedded callback server'
complete -c hookwait -n '__fish_seen_subcommand_from run' -l suite -d 'YAML suite of chained tests' -rF
complete -c hookwait -n '__fish_seen_subcommand_from run' -l var -d 'Suite variable key=value' -r
complete -c hookwait -n '__fish_seen_subcommand_from run' -l save-baseline -d 'Save callback latencies as a baseline' -rF
complete -c hookwait -n '__fish_seen_subcommand_from run' -l baseline -d 'Compare callback latencies against a baseline' -rF
complete -c hookwait -n '__fish_seen_subcommand_from run' -l threshold -d 'Regression threshold percentage' -r

# send flags
complete -c hookwait -n '__fish_seen_subcommand_from send' -l dry-run -d 'Print the resolved request as curl'

# query flags
complete -c hookwait -n '__fish_seen_subcommand_from send tests show logs stats' -l output -d 'Output format' -ra 'text json'
complete -c hookwait -n '__fish_seen_subcommand_from tests' -l status -d 'Filter by status' -ra 'pending completed timeout'
complete -c hookwait -n '__fish_seen_subcommand_from tests logs' -l since -d 'Only items within this window' -r
complete -c hookwait -n '__fish_seen_subcommand_from tests logs' -l limit -d 'Maximum number of items' -r
complete -c hookwait -n '__fish_seen_subcommand_from tests logs' -l offset -d 'Skip this many items' -r
complete -c hookwait -n '__fish_seen_subcommand_from tests' -l match -d 'Fuzzy-match test ids and requests' -r
complete -c hookwait -n '__fish_seen_subcommand_from show' -l logs -d 'Include the event log'
complete -c hookwait -n '__fish_seen_subcommand_from logs tail' -l test -d 'Only this test id' -r
complete -c hookwait -n '__fish_seen_subcommand_from logs tail' -l event -d 'Only this event type' -ra 'created request-sent response-received callback-received completed timed-out errored'
complete -c hookwait -n '__fish_seen_subcommand_from logs' -l level -d 'Only this level' -ra 'debug info warn error'
complete -c hookwait -n '__fish_seen_subcommand_from url' -l copy -d 'Copy the URL to the clipboard'
complete -c hookwait -n '__fish_seen_subcommand_from url' -l json -d 'Print as JSON'
complete -c hookwait -n '__fish_seen_subcommand_from clear' -l force -d 'Confirm deleting every test'

# tail flags
complete -c hookwait -n '__fish_seen_subcommand_from tail' -l config -d 'Path to config file' -rF
complete -c hookwait -n '__fish_seen_subcommand_from tail' -l server -d 'Server base URL' -r
complete -c hookwait -n '__fish_seen_subcommand_from tail' -l json -d 'Print entries as JSON lines'

# completion - shell names
complete -c hookwait -n '__fish_seen_subcommand_from completion' -a 'bash zsh fish' -d 'Shell type'
`
}
