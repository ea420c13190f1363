package main

import "errors"

var errNoConfig = errors.New("calmesh: no configuration file found")
