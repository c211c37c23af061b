// Package runtimejs generates the in-page hot-reload runtime.
//
// The runtime is injected ahead of an intercepted bundle (or served from the
// control plane at /runtime.js). It connects back to the control plane over
// WebSocket, instruments the host page's control registry, and swaps live
// component instances when a reload message arrives.
package runtimejs

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultWsPort is the control-plane port the runtime assumes when the page
// global is missing.
const DefaultWsPort = 8643

const (
	// reconnectDelayMs is the WebSocket reconnect backoff.
	reconnectDelayMs = 3000

	// registryPollTimeoutMs bounds the wait for a re-registered constructor
	// after a bundle swap.
	registryPollTimeoutMs = 2500

	// registryPollIntervalMs is the constructor poll interval.
	registryPollIntervalMs = 50
)

// Message type identifiers shared with the control plane.
const (
	ReloadMessageType = "pcf-hmr:reload"
	AckMessageType    = "pcf-hmr:ack"
)

// WsPortGlobal is the page global the rewriter declares and the runtime reads.
const WsPortGlobal = "__pcfHmrWsPort"

// Prelude returns the runtime-configuration line the rewriter prepends ahead
// of the runtime source. It must stay a single line so bundle line numbers
// shift by a fixed amount.
//
// Parameters:
//   - wsPort: The control-plane port to expose to the page
//
// Returns:
//   - string: A single `var` declaration terminated by a newline
func Prelude(wsPort int) string {
	return fmt.Sprintf("var %s = %d;\n", WsPortGlobal, wsPort)
}

// Source returns the full in-page runtime JavaScript.
//
// Returns:
//   - string: The runtime source, without a trailing newline
func Source() string {
	r := strings.NewReplacer(
		"__RECONNECT_MS__", strconv.Itoa(reconnectDelayMs),
		"__POLL_TIMEOUT_MS__", strconv.Itoa(registryPollTimeoutMs),
		"__POLL_INTERVAL_MS__", strconv.Itoa(registryPollIntervalMs),
		"__DEFAULT_PORT__", strconv.Itoa(DefaultWsPort),
		"__PORT_GLOBAL__", WsPortGlobal,
		"__MSG_RELOAD__", ReloadMessageType,
		"__MSG_ACK__", AckMessageType,
	)
	return r.Replace(runtimeTemplate)
}

// runtimeTemplate is the runtime source with generation placeholders.
//
// The runtime is a self-installing singleton. It has no build step of its
// own, so it sticks to ES5-era syntax that every host page can parse.
const runtimeTemplate = `(function () {
  'use strict';

  var g = typeof window !== 'undefined' ? window : this;
  if (g.__pcfHmrRuntimeInstalled) {
    return;
  }
  g.__pcfHmrRuntimeInstalled = true;

  var wsPort = typeof g.__PORT_GLOBAL__ === 'number' ? g.__PORT_GLOBAL__ : __DEFAULT_PORT__;
  var log = function (msg) {
    try { console.log('[pcf-hmr] ' + msg); } catch (e) { /* consoles can be stubbed */ }
  };
  var warn = function (msg) {
    try { console.warn('[pcf-hmr] ' + msg); } catch (e) { }
  };

  // instances[shortName] -> array of { instance, context, notifyOutputChanged, state, container }
  var instances = {};
  // cycles[shortName] -> { inFlight: bool, pending: message|null }
  var cycles = {};

  function recordsFor(shortName) {
    if (!instances[shortName]) {
      instances[shortName] = [];
    }
    return instances[shortName];
  }

  function shortNameOf(controlName) {
    var idx = controlName.indexOf('_');
    return idx >= 0 ? controlName.slice(idx + 1) : controlName;
  }

  // ---- registry instrumentation -------------------------------------------

  function patchConstructor(shortName, ctor) {
    if (!ctor || !ctor.prototype || ctor.prototype.__pcfHmrPatched) {
      return;
    }
    ctor.prototype.__pcfHmrPatched = true;

    var origInit = ctor.prototype.init;
    ctor.prototype.init = function (context, notifyOutputChanged, state, container) {
      var result = origInit ? origInit.apply(this, arguments) : undefined;
      var records = recordsFor(shortName);
      for (var i = 0; i < records.length; i++) {
        if (records[i].instance === this) {
          records.splice(i, 1);
          break;
        }
      }
      records.push({
        instance: this,
        context: context,
        notifyOutputChanged: notifyOutputChanged,
        state: state,
        container: container
      });
      return result;
    };

    var origDestroy = ctor.prototype.destroy;
    ctor.prototype.destroy = function () {
      var records = recordsFor(shortName);
      for (var i = 0; i < records.length; i++) {
        if (records[i].instance === this) {
          records.splice(i, 1);
          break;
        }
      }
      return origDestroy ? origDestroy.apply(this, arguments) : undefined;
    };
  }

  function instrumentRegistry(registry) {
    if (!registry || registry.__pcfHmrInstrumented || typeof registry.registerControl !== 'function') {
      return;
    }
    registry.__pcfHmrInstrumented = true;

    var origRegister = registry.registerControl;
    registry.registerControl = function (name, ctor) {
      // Patch before and after: some hosts clone the constructor on register.
      patchConstructor(shortNameOf(name), ctor);
      var result = origRegister.apply(this, arguments);
      var registered = registry.getRegisteredControl && registry.getRegisteredControl(shortNameOf(name));
      if (registered) {
        patchConstructor(shortNameOf(name), registered);
      }
      return result;
    };
    log('registry instrumented');
  }

  // The registry global may not exist yet. Trap its assignment; fall back to
  // polling when defineProperty is refused (frozen globals, strict hosts).
  function watchRegistry() {
    if (g.customControls) {
      instrumentRegistry(g.customControls);
      return;
    }
    var trapped = false;
    try {
      var slot;
      Object.defineProperty(g, 'customControls', {
        configurable: true,
        get: function () { return slot; },
        set: function (value) {
          slot = value;
          instrumentRegistry(value);
        }
      });
      trapped = true;
    } catch (e) {
      // fall through to polling
    }
    if (!trapped) {
      var poll = setInterval(function () {
        if (g.customControls) {
          clearInterval(poll);
          instrumentRegistry(g.customControls);
        }
      }, __POLL_INTERVAL_MS__);
    }
  }

  // ---- websocket transport ------------------------------------------------

  var socket = null;

  function connect() {
    var url = 'ws://127.0.0.1:' + wsPort + '/ws';
    try {
      socket = new WebSocket(url);
    } catch (e) {
      socket = null;
      setTimeout(connect, __RECONNECT_MS__);
      return;
    }
    socket.onopen = function () {
      log('connected to ' + url);
    };
    socket.onclose = function () {
      socket = null;
      setTimeout(connect, __RECONNECT_MS__);
    };
    socket.onerror = function () {
      // onclose fires next; reconnect handled there
    };
    socket.onmessage = function (event) {
      var msg;
      try {
        msg = JSON.parse(event.data);
      } catch (e) {
        return;
      }
      if (msg && msg.type === '__MSG_RELOAD__' && msg.payload) {
        scheduleReload(msg.payload);
      }
    };
  }

  function sendAck(ack) {
    if (!socket || socket.readyState !== 1) {
      warn('ACK dropped, socket not open: ' + ack.id);
      return;
    }
    socket.send(JSON.stringify({ type: '__MSG_ACK__', payload: ack }));
  }

  // ---- reload state machine -----------------------------------------------

  function cycleFor(shortName) {
    if (!cycles[shortName]) {
      cycles[shortName] = { inFlight: false, pending: null };
    }
    return cycles[shortName];
  }

  function scheduleReload(message) {
    var shortName = shortNameOf(message.controlName);
    var cycle = cycleFor(shortName);
    if (cycle.inFlight) {
      cycle.pending = message;
      return;
    }
    cycle.inFlight = true;
    runReload(message, shortName, function () {
      cycle.inFlight = false;
      if (cycle.pending) {
        var next = cycle.pending;
        cycle.pending = null;
        scheduleReload(next);
      }
    });
  }

  function failAck(message, started, total, reason) {
    return {
      id: message.id,
      controlName: message.controlName,
      buildId: message.buildId,
      status: 'failed',
      instancesTotal: total,
      instancesReloaded: 0,
      durationMs: Date.now() - started,
      error: reason
    };
  }

  function findBundleScript(controlName) {
    var scripts = document.getElementsByTagName('script');
    for (var i = 0; i < scripts.length; i++) {
      var src = scripts[i].src || '';
      if (src.indexOf('/' + controlName + '/bundle.js') !== -1) {
        return scripts[i];
      }
    }
    return null;
  }

  function pollRegistry(shortName, deadline, done) {
    var registry = g.customControls;
    var ctor = registry && registry.getRegisteredControl && registry.getRegisteredControl(shortName);
    if (ctor) {
      done(ctor);
      return;
    }
    if (Date.now() >= deadline) {
      done(null);
      return;
    }
    setTimeout(function () {
      pollRegistry(shortName, deadline, done);
    }, __POLL_INTERVAL_MS__);
  }

  function runReload(message, shortName, finished) {
    var started = Date.now();
    var old = findBundleScript(message.controlName);
    if (!old) {
      warn('no script tag for ' + message.controlName);
      sendAck(failAck(message, started, 0, 'Bundle script tag not found'));
      finished();
      return;
    }

    var snapshot = recordsFor(shortName).slice();
    var total = snapshot.length;

    for (var i = 0; i < snapshot.length; i++) {
      var rec = snapshot[i];
      try {
        if (rec.instance && typeof rec.instance.destroy === 'function') {
          rec.instance.destroy();
        }
      } catch (e) {
        warn('destroy failed: ' + e);
      }
      try {
        if (rec.container) {
          while (rec.container.firstChild) {
            rec.container.removeChild(rec.container.firstChild);
          }
        }
      } catch (e) {
        warn('container clear failed: ' + e);
      }
    }
    instances[shortName] = [];

    var fresh = document.createElement('script');
    var src = old.src.split('?')[0];
    fresh.src = src + '?pcfHmr=' + Date.now();

    fresh.onerror = function () {
      sendAck(failAck(message, started, total, 'Bundle failed to load'));
      finished();
    };

    fresh.onload = function () {
      pollRegistry(shortName, Date.now() + __POLL_TIMEOUT_MS__, function (ctor) {
        if (!ctor) {
          sendAck(failAck(message, started, total, 'Constructor not re-registered within __POLL_TIMEOUT_MS__ms'));
          finished();
          return;
        }
        var reloaded = 0;
        for (var i = 0; i < snapshot.length; i++) {
          var rec = snapshot[i];
          try {
            var next = new ctor();
            next.init(rec.context, rec.notifyOutputChanged, rec.state, rec.container);
            if (typeof next.updateView === 'function') {
              next.updateView(rec.context);
            }
            reloaded++;
          } catch (e) {
            warn('re-init failed: ' + e);
          }
        }
        var status;
        if (total === 0 || reloaded === total) {
          status = 'success';
        } else if (reloaded > 0) {
          status = 'partial';
        } else {
          status = 'failed';
        }
        var ack = {
          id: message.id,
          controlName: message.controlName,
          buildId: message.buildId,
          status: status,
          instancesTotal: total,
          instancesReloaded: reloaded,
          durationMs: Date.now() - started
        };
        if (status === 'failed') {
          ack.error = 'No instances could be re-initialized';
        }
        log('reload ' + message.buildId + ': ' + reloaded + '/' + total + ' instances in ' + ack.durationMs + 'ms');
        sendAck(ack);
        finished();
      });
    };

    if (old.parentNode) {
      old.parentNode.removeChild(old);
    }
    (document.head || document.documentElement).appendChild(fresh);
  }

  watchRegistry();
  connect();
  log('runtime installed, control plane port ' + wsPort);
})();`
